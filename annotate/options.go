package annotate

// Options are the annotation engine's boolean switches. The zero value is
// not the default configuration; use DefaultOptions.
type Options struct {
	// LocalOffsets prefixes each code line with its offset from the start
	// of the containing function.
	LocalOffsets bool
	// EntabOutput compresses run-of-spaces column padding into tabs.
	EntabOutput bool
	// DataSections dumps recognised data sections after the disassembly.
	DataSections bool
	// Checksum reserves a checksum line in the output header for the
	// caller to fill after writing.
	Checksum bool
	// VerboseMsgSends expands objc_msgSend call sites to
	// -[Class selector] / +[Class selector] comments.
	VerboseMsgSends bool
	// SeparateLogicalBlocks emits a blank line at each discovered block
	// boundary.
	SeparateLogicalBlocks bool
	// DemangleCppNames routes C++ symbol names through the external
	// demangler, when one is attached.
	DemangleCppNames bool
	// ReturnTypes includes the Objective-C method return type in the
	// method's entry comment.
	ReturnTypes bool
	// VariableTypes includes the declared type in ivar-load comments.
	VariableTypes bool
	// ReturnStatements comments return instructions.
	ReturnStatements bool
}

// DefaultOptions mirrors the documented per-option defaults.
func DefaultOptions() Options {
	return Options{
		LocalOffsets:     true,
		Checksum:         true,
		VerboseMsgSends:  true,
		DemangleCppNames: true,
		ReturnTypes:      true,
		VariableTypes:    true,
		ReturnStatements: true,
	}
}
