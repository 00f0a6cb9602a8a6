// Package annotate is the annotation engine: it correlates a dual
// disassembly (symbolic + numeric operands) of a Mach-O image against the
// image's parsed metadata and rewrites each code line with a trailing
// symbolic comment -- Objective-C method names at call sites, selector and
// class names at msgSend sites, ivar names at indirect loads, string and
// float literals at data references, and local frame offsets.
package annotate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	macho "github.com/otxgo/otx"
	"github.com/otxgo/otx/annotate/catalog"
	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/funcblock"
	"github.com/otxgo/otx/annotate/machoutil"
	"github.com/otxgo/otx/annotate/machstate"
	"github.com/otxgo/otx/annotate/resolve"
	"github.com/otxgo/otx/annotate/sim"
	"github.com/otxgo/otx/annotate/write"
	"github.com/otxgo/otx/types/objc"
)

// ProgressFreq is how many processed lines pass between progress-callback
// invocations and cancellation polls.
const ProgressFreq = 3500

// ProgressFunc receives the running count of processed lines. It must not
// mutate annotator state.
type ProgressFunc func(linesDone int)

// Annotator drives one image's annotation run. The image, registry and
// catalog are read-only after construction; line lists and simulator state
// are owned by Run and never shared.
type Annotator struct {
	f    *macho.File
	path string
	opts Options
	arch sim.Arch
	reg  *resolve.Registry
	cat  *catalog.Catalog
	res  *resolve.Resolver

	dem      Demangler
	progress ProgressFunc
	stop     atomic.Bool

	symsByAddr map[uint64]string
}

// New builds an Annotator over an already-loaded image. path is recorded
// for the output header only.
func New(f *macho.File, path string, opts Options) (*Annotator, error) {
	arch, ok := sim.ForCPU(f.CPU)
	if !ok {
		return nil, errf(ErrUnsupported, "unknown cpu type %s", f.CPU)
	}

	reg, err := resolve.Build(f)
	if err != nil {
		return nil, wrapErr(ErrFormat, err, "%s", path)
	}
	cat, err := catalog.Build(f)
	if err != nil {
		return nil, wrapErr(ErrFormat, err, "%s", path)
	}

	a := &Annotator{
		f:          f,
		path:       path,
		opts:       opts,
		arch:       arch,
		reg:        reg,
		cat:        cat,
		res:        resolve.New(f, reg, cat),
		symsByAddr: make(map[uint64]string),
	}
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			if s.Name == "" || s.Value == 0 {
				continue
			}
			if _, exists := a.symsByAddr[s.Value]; !exists {
				a.symsByAddr[s.Value] = s.Name
			}
		}
	}
	// A stripped image may keep its exported names only in the dyld exports
	// trie; fold those in under the same address map. Absence of the trie is
	// not an error.
	if exports, err := f.DyldExports(); err == nil {
		for _, e := range exports {
			if e.Name == "" || e.Address == 0 {
				continue
			}
			if _, exists := a.symsByAddr[e.Address]; !exists {
				a.symsByAddr[e.Address] = e.Name
			}
		}
	}
	return a, nil
}

// signingIdentity names who signed the image, from the embedded code
// signature's code directory, or "" when unsigned.
func (a *Annotator) signingIdentity() string {
	cs := a.f.CodeSignature()
	if cs == nil || len(cs.CodeDirectories) == 0 {
		return ""
	}
	cd := cs.CodeDirectories[0]
	if cd.TeamID != "" {
		return fmt.Sprintf("%s (%s)", cd.ID, cd.TeamID)
	}
	return cd.ID
}

// SetDemangler attaches the external C++ demangler for the run's lifetime.
func (a *Annotator) SetDemangler(d Demangler) { a.dem = d }

// SetProgress attaches the progress callback.
func (a *Annotator) SetProgress(fn ProgressFunc) { a.progress = fn }

// Cancel requests a cooperative stop; the annotator notices at the next
// progress poll and returns a cancelled error without producing output.
func (a *Annotator) Cancel() { a.stop.Store(true) }

// row is one output line after annotation, held until field widths are
// final.
type row struct {
	code       bool
	text       string // literal text for non-code lines
	label      string // function label emitted before this line
	blockStart bool

	offset, address, bytes, mnemonic, operands, comment string
}

// Run ingests the two raw disassemblies, discovers functions and blocks,
// simulates and annotates every code line, and returns the assembled
// output. The caller fills the reserved checksum line and flushes.
func (a *Annotator) Run(symbolicText, numericText string) (*write.Writer, error) {
	symList, err := dline.Ingest(symbolicText)
	if err != nil {
		return nil, wrapErr(ErrFormat, err, "symbolic listing")
	}
	numList, err := dline.Ingest(numericText)
	if err != nil {
		return nil, wrapErr(ErrFormat, err, "numeric listing")
	}
	if err := dline.CrossLink(symList, numList); err != nil {
		return nil, wrapErr(ErrFormat, err, "listing merge")
	}

	code := numList.CodeLines()
	for _, line := range code {
		if _, ok := a.symsByAddr[line.Info.Address]; ok {
			line.Info.IsFunctionStart = true
			if line.Alt != nil {
				line.Alt.Info.IsFunctionStart = true
			}
		}
	}

	funcs := funcblock.FindFunctions(a.f, numList, a.arch)

	env := &sim.Env{
		Resolver:      a.res,
		Catalog:       a.cat,
		SymbolAt:      a.symbolAt,
		VariableTypes: a.opts.VariableTypes,
	}
	if a.arch.Name() == "i386" {
		env.Thunks = sim.FindThunks(code)
	}

	// First pass: block discovery with entry-state snapshots, per function.
	for i, fn := range funcs {
		fcode := functionCode(code, funcs, i)
		env.CurrentMethod = a.methodAt(fn.StartAddress)
		initial := machstate.NewMachineState(a.arch.RegisterCount())
		a.arch.ResetRegisters(&initial, env)
		funcblock.GatherFuncInfosWithState(fn, fcode, a.arch, initial, func(st *machstate.MachineState, line *dline.Line) {
			a.arch.UpdateRegisters(st, line, env)
		})
	}

	// Second pass: simulate again in address order, this time choosing the
	// canonical variant of each line and emitting comments.
	var rows []row
	var fw write.FieldWidths
	live := machstate.NewMachineState(a.arch.RegisterCount())
	var curFn *funcblock.FunctionInfo
	done := 0

	for line := numList.Head; line != nil; line = line.Next {
		if done%ProgressFreq == 0 {
			if a.stop.Load() {
				return nil, errf(ErrCancelled, "annotation cancelled")
			}
			if a.progress != nil && done > 0 {
				a.progress(done)
			}
		}

		if !line.Info.IsCode {
			rows = append(rows, row{text: line.Text})
			continue
		}
		done++

		addr := line.Info.Address
		fn, _ := funcblock.FunctionFor(funcs, addr)

		r := row{code: true}
		restored := false
		switch {
		case fn != nil && addr == fn.StartAddress:
			curFn = fn
			env.CurrentMethod = a.methodAt(addr)
			a.arch.ResetRegisters(&live, env)
			r.label = a.functionLabel(fn)
		case fn != nil:
			if blk, ok := funcblock.BlockFor(fn, addr); ok && blk.BeginAddress == addr {
				live = blk.EntryState.Clone()
				restored = true
				r.blockStart = true
			}
		}

		note := a.arch.UpdateRegisters(&live, line, env)
		chosen := chooseLine(line)

		r.comment = a.commentFor(line, note, restored)
		if a.opts.LocalOffsets && curFn != nil {
			r.offset = fmt.Sprintf("+%d", addr-curFn.StartAddress)
		}
		r.address = a.formatAddress(addr)
		r.bytes = a.formatBytes(line.Info.Raw)
		r.mnemonic = chosen.Info.Mnemonic
		r.operands = chosen.Info.Operands

		fw.Widen(r.offset, r.address, r.bytes, r.mnemonic, r.operands)
		rows = append(rows, r)
	}
	if a.stop.Load() {
		return nil, errf(ErrCancelled, "annotation cancelled")
	}
	if a.progress != nil {
		a.progress(done)
	}

	w := write.NewWriter(a.opts.EntabOutput)
	w.WriteHeader(a.path, a.arch.Name(), time.Now(), a.signingIdentity(), a.opts.Checksum)
	for _, r := range rows {
		if r.label != "" {
			w.WriteBlankLine()
			w.WriteLine(r.label)
		} else if r.blockStart && a.opts.SeparateLogicalBlocks {
			w.WriteBlankLine()
		}
		if !r.code {
			w.WriteLine(r.text)
			continue
		}
		w.WriteLine(write.FormatCodeLine(fw, r.offset, r.address, r.bytes, r.mnemonic, r.operands, r.comment))
	}

	if a.opts.DataSections {
		a.dumpDataSections(w)
	}
	return w, nil
}

// functionCode returns the code lines belonging to funcs[i]: those at or
// after its start and before the next function's start.
func functionCode(code []*dline.Line, funcs []*funcblock.FunctionInfo, i int) []*dline.Line {
	start := funcs[i].StartAddress
	end := ^uint64(0)
	if i+1 < len(funcs) {
		end = funcs[i+1].StartAddress
	}
	lo := sort.Search(len(code), func(j int) bool { return code[j].Info.Address >= start })
	hi := sort.Search(len(code), func(j int) bool { return code[j].Info.Address >= end })
	return code[lo:hi]
}

func (a *Annotator) symbolAt(addr uint64) (string, bool) {
	name, ok := a.symsByAddr[addr]
	return name, ok
}

// methodAt returns the Objective-C method implemented at addr, preferring
// the class's own methods over category contributions.
func (a *Annotator) methodAt(addr uint64) *catalog.MethodInfo {
	if mi, ok := a.cat.FindClassMethodByAddress(addr); ok {
		return &mi
	}
	if mi, ok := a.cat.FindCategoryMethodByAddress(addr); ok {
		return &mi
	}
	return nil
}

// functionLabel renders the label emitted above a function's first line: a
// (demangled) symbol name, a reconstructed method signature, or AnonN.
func (a *Annotator) functionLabel(fn *funcblock.FunctionInfo) string {
	if mi := a.methodAt(fn.StartAddress); mi != nil {
		return a.renderMethod(mi) + ":"
	}
	if name, ok := a.symsByAddr[fn.StartAddress]; ok {
		return a.demangled(name) + ":"
	}
	return fmt.Sprintf("Anon%d:", fn.GenericIndex)
}

// renderMethod renders "-[Class sel]" / "+[Class sel]", with the category
// in parentheses and, under ReturnTypes, the decoded return type.
func (a *Annotator) renderMethod(mi *catalog.MethodInfo) string {
	sign := "+"
	if mi.IsInstance {
		sign = "-"
	}
	owner := mi.Class
	if mi.Category != "" {
		owner = fmt.Sprintf("%s(%s)", mi.Class, mi.Category)
	}
	s := fmt.Sprintf("%s[%s %s]", sign, owner, mi.Sel)
	if a.opts.ReturnTypes && mi.Types != "" {
		if ret := (&objc.Method{Types: mi.Types}).ReturnType(); ret != "" {
			s += fmt.Sprintf(" (%s)", ret)
		}
	}
	return s
}

func (a *Annotator) demangled(name string) string {
	if !a.opts.DemangleCppNames || a.dem == nil || !isMangledCpp(name) {
		return name
	}
	out, err := a.dem.Demangle(name)
	if err != nil || out == "" {
		return name
	}
	return out
}

// isCallMnemonic covers the call instructions of all four architectures,
// with the AT&T size suffixes the numeric listing may carry.
func isCallMnemonic(m string) bool {
	switch m {
	case "call", "calll", "callq", "bl", "bla":
		return true
	}
	return false
}

// commentFor builds one line's trailing comment, in priority order: the
// simulator's note (msgSend expansion or ivar name), a named call target,
// a resolved data reference, or a return marker. A line whose state was
// just restored from a block snapshot gets no state-derived comment.
func (a *Annotator) commentFor(line *dline.Line, note string, restored bool) string {
	if note != "" && !restored {
		isSendNote := strings.HasPrefix(note, "-[") || strings.HasPrefix(note, "+[")
		if !isSendNote || a.opts.VerboseMsgSends {
			return note
		}
	}

	m := line.Info.Mnemonic
	if isCallMnemonic(m) {
		target, ok := funcblock.ParseBranchTarget(line.Info.Operands)
		if !ok {
			return ""
		}
		if mi := a.methodAt(target); mi != nil {
			return a.renderMethod(mi)
		}
		if name, ok := a.symbolAt(target); ok {
			return a.demangled(name)
		}
		return ""
	}

	if a.arch.IsBranch(m) {
		return ""
	}

	if a.arch.IsReturn(m) {
		if a.opts.ReturnStatements {
			return "return"
		}
		return ""
	}

	if addr, ok := dataAddress(line.Info.Operands); ok {
		if res, ok := a.res.GetPointer(addr); ok {
			return res.Text
		}
	}
	return ""
}

// dataOperand matches a hex literal used as a memory or immediate operand.
var dataOperand = regexp.MustCompile(`(?i)\$?0x([0-9a-f]+)`)

func dataAddress(operands string) (uint64, bool) {
	m := dataOperand.FindStringSubmatch(operands)
	if m == nil {
		return 0, false
	}
	var v uint64
	if _, err := fmt.Sscanf(m[1], "%x", &v); err != nil {
		return 0, false
	}
	return v, true
}

func (a *Annotator) formatAddress(addr uint64) string {
	if machoutil.Is64(a.f) {
		return fmt.Sprintf("%016x", addr)
	}
	return fmt.Sprintf("%08x", addr)
}

// formatBytes renders the raw byte column: spaced pairs on x86, whole
// words on PPC, matching the input listings.
func (a *Annotator) formatBytes(raw []byte) string {
	var b strings.Builder
	ppc := strings.HasPrefix(a.arch.Name(), "ppc")
	for i, c := range raw {
		if i > 0 && !ppc {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}

// registerName matches operand tokens that are register references rather
// than symbols, across all four architectures.
var registerName = regexp.MustCompile(`(?i)^%?(e|r)?(ax|bx|cx|dx|si|di|sp|bp|ip)l?$|^%?r\d+[bwld]?$|^%?(x?mm|st|cr|f)\d+$|^%?(lr|ctr|cs|ds|es|fs|gs|ss)$`)

// symbolToken matches an alphabetic run that could be a symbol reference.
var symbolToken = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$.]+`)

// chooseLine implements the merge policy: keep the symbolic variant when
// its operands contain a plausible symbol (an alphabetic run that is
// neither a register name nor a literal prefix), else keep the numeric
// one.
func chooseLine(numeric *dline.Line) *dline.Line {
	symbolic := numeric.Alt
	if symbolic == nil {
		return numeric
	}
	ops := dataOperand.ReplaceAllString(symbolic.Info.Operands, "")
	for _, tok := range symbolToken.FindAllString(ops, -1) {
		if registerName.MatchString(tok) {
			continue
		}
		return symbolic
	}
	return numeric
}

// dataKinds are the section kinds dumped under the dataSections option.
var dataKinds = map[resolve.SectionKind]bool{
	resolve.KindCString:     true,
	resolve.KindPString:     true,
	resolve.KindCFString:    true,
	resolve.KindFloat4:      true,
	resolve.KindDouble8:     true,
	resolve.KindDataGeneric: true,
	resolve.KindDataConst:   true,
	resolve.KindTextConst:   true,
}

// maxDumpSize bounds one section dump so a huge data segment cannot
// dominate the listing.
const maxDumpSize = 1 << 16

func (a *Annotator) dumpDataSections(w *write.Writer) {
	for _, h := range a.reg.Handles() {
		if !dataKinds[h.Kind] || h.Size == 0 || h.Size > maxDumpSize {
			continue
		}
		buf := make([]byte, h.Size)
		if _, err := machoutil.ReadAtAddr(a.f, buf, h.VMAddr); err != nil {
			continue
		}
		write.DumpSection(w, h.Segment, h.Name, h.VMAddr, buf)
	}
}
