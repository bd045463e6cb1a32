package command

// Success indicates a successful command execution.
const Success int = 0

// The following error group is intended for issues within the command's execution.
const (
	// FlagParseError indicates that a command was unable to parse the flags/arguments provided to it.
	FlagParseError int = iota + 16

	// ConfigError indicates that the environment or patterns file is invalid.
	ConfigError

	// RunError indicates that a mask, unmask or extraction call failed.
	RunError

	// InputError indicates the input text or mapping file could not be read.
	InputError

	// OutputError indicates an error writing results or the mapping file.
	OutputError

	// SetupError is returned when a dependency such as the mapping store or
	// the upstream client cannot be prepared.
	SetupError
)
