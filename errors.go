package spritemill

import "errors"

// Hard errors. Everything else (degenerate palettes, unconfident background
// estimates) resolves locally and is reported through status flags on the
// result, never through an error.
var (
	// ErrInvalidImage marks malformed or zero-dimension input.
	ErrInvalidImage = errors.New("invalid image")
	// ErrDimensionMismatch marks compositor inputs whose canvases differ.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
