package config

import "errors"

// Error classification codes for the config package.
var (
	// ErrFileNotFound indicates an explicitly named config file is missing.
	ErrFileNotFound = errors.New("config: file not found")

	// ErrFileRead indicates a config file exists but could not be read.
	ErrFileRead = errors.New("config: cannot read file")

	// ErrInvalid indicates a config file parsed but failed validation
	// (malformed JSONC, or a tunable outside its allowed range).
	ErrInvalid = errors.New("config: invalid")
)
