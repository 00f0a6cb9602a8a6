// Command otx annotates a Mach-O executable's disassembly with
// Objective-C and symbol context. The two raw listings (symbolic and
// numeric operands) are produced by an external disassembler and handed in
// as files; otx correlates them against the binary and writes the
// annotated listing.
package main

import (
	"crypto/md5"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/otxgo/otx/annotate"
)

const (
	exitUsage       = 1
	exitBadBinary   = 2
	exitMissingTool = 3
	exitCancelled   = 4
)

var (
	arch    string
	symPath string
	numPath string
	outPath string
	opts    = annotate.DefaultOptions()
)

func main() {
	cmd := &cobra.Command{
		Use:           "otx <executable>",
		Short:         "annotate a Mach-O disassembly with Objective-C context",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fl := cmd.Flags()
	fl.StringVar(&arch, "arch", "x86_64", "architecture slice: ppc, ppc64, i386, x86_64")
	fl.StringVar(&symPath, "symbolic", "", "disassembly listing with symbolic operands (required)")
	fl.StringVar(&numPath, "numeric", "", "disassembly listing with numeric operands (required)")
	fl.StringVarP(&outPath, "output", "o", "", "output file (default stdout)")

	fl.BoolVar(&opts.LocalOffsets, "local-offsets", opts.LocalOffsets, "prefix each line with its function-local offset")
	fl.BoolVar(&opts.EntabOutput, "entab", opts.EntabOutput, "compress column padding into tabs")
	fl.BoolVar(&opts.DataSections, "data-sections", opts.DataSections, "dump recognised data sections after the listing")
	fl.BoolVar(&opts.Checksum, "checksum", opts.Checksum, "embed a checksum of the output")
	fl.BoolVar(&opts.VerboseMsgSends, "verbose-msgsends", opts.VerboseMsgSends, "expand objc_msgSend to -[Class selector]")
	fl.BoolVar(&opts.SeparateLogicalBlocks, "separate-blocks", opts.SeparateLogicalBlocks, "blank line at each block boundary")
	fl.BoolVar(&opts.DemangleCppNames, "demangle", opts.DemangleCppNames, "demangle C++ names via c++filt")
	fl.BoolVar(&opts.ReturnTypes, "return-types", opts.ReturnTypes, "include method return types")
	fl.BoolVar(&opts.VariableTypes, "variable-types", opts.VariableTypes, "include ivar types")
	fl.BoolVar(&opts.ReturnStatements, "return-statements", opts.ReturnStatements, "comment return instructions")

	_ = cmd.MarkFlagRequired("symbolic")
	_ = cmd.MarkFlagRequired("numeric")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "otx:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ae *annotate.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case annotate.ErrFormat, annotate.ErrUnsupported:
			return exitBadBinary
		case annotate.ErrToolchain:
			return exitMissingTool
		case annotate.ErrCancelled:
			return exitCancelled
		}
	}
	return exitUsage
}

func run(cmd *cobra.Command, args []string) error {
	exePath := args[0]

	f, err := annotate.LoadImage(exePath, arch)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := annotate.New(f, exePath, opts)
	if err != nil {
		return err
	}

	if opts.DemangleCppNames {
		if filt, cleanup, err := startDemangler(); err == nil {
			a.SetDemangler(filt)
			defer cleanup()
		}
		// A missing demangler degrades silently: names stay mangled.
	}

	symText, err := os.ReadFile(symPath)
	if err != nil {
		return &annotate.Error{Kind: annotate.ErrIO, Msg: "symbolic listing", Err: err}
	}
	numText, err := os.ReadFile(numPath)
	if err != nil {
		return &annotate.Error{Kind: annotate.ErrIO, Msg: "numeric listing", Err: err}
	}

	w, err := a.Run(string(symText), string(numText))
	if err != nil {
		return err
	}

	if opts.Checksum {
		w.FillChecksum(fmt.Sprintf("%x", md5.Sum(w.Body())))
	}

	out := os.Stdout
	if outPath != "" {
		out, err = os.Create(outPath)
		if err != nil {
			return &annotate.Error{Kind: annotate.ErrIO, Msg: "output file", Err: err}
		}
		defer out.Close()
	}
	return w.Flush(out)
}

// startDemangler spawns c++filt as the line-oriented name filter.
func startDemangler() (annotate.Demangler, func(), error) {
	path, err := exec.LookPath("c++filt")
	if err != nil {
		return nil, nil, err
	}
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		stdin.Close()
		cmd.Wait()
	}
	return annotate.NewPipeDemangler(stdin, stdout, 2*time.Second), cleanup, nil
}
