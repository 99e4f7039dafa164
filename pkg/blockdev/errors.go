package blockdev

import "errors"

// Error classification codes for the blockdev package.
//
// Callers MUST classify errors using errors.Is; implementations MAY wrap
// these with additional context via fmt.Errorf("%w: ...", Err).
var (
	// ErrOutOfRange indicates a block number at or beyond NumBlocks.
	ErrOutOfRange = errors.New("blockdev: block number out of range")

	// ErrIO classifies a storage failure. The stores in this package do
	// not wrap it: the file store returns the underlying os error, and
	// faults injected by Chaos are recognized with IsChaosErr.
	ErrIO = errors.New("blockdev: io error")

	// ErrClosed indicates an operation on a Device that has already been
	// closed.
	ErrClosed = errors.New("blockdev: closed")
)
