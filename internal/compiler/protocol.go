package compiler

// The CLI contract every data compiler binary implements. The engine
// invokes compilers with these commands and parses their stdout as a
// single JSON document; a non-zero exit code is a failure and stderr
// is captured verbatim into the error.
const (
	// BinaryPrefix is the filename prefix discovery scans for.
	BinaryPrefix = "compiler-"

	CommandInfo         = "info"
	CommandCompilerHash = "compiler_hash"
	CommandCompile      = "compile"

	ArgTarget      = "target"
	ArgPlatform    = "platform"
	ArgLocale      = "locale"
	ArgDeps        = "deps"
	ArgDerivedDeps = "derdeps"
	ArgCAS         = "cas"
	ArgResourceDir = "resource-dir"
)
