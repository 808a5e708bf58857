package geometry

import "errors"

// Sentinel errors shared by the geometry, mask and perspective packages.
// Callers match them with errors.Is; the returned errors carry context.
var (
	// ErrInvalidGeometry reports a degenerate polygon (too few points, collinear corners, zero-sized output).
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrInvalidPointCount reports a correspondence set that does not hold exactly four points.
	ErrInvalidPointCount = errors.New("invalid point count")
	// ErrNoContourFound reports a mask without a usable contour.
	ErrNoContourFound = errors.New("no contour found")
	// ErrDegenerateHomography reports a transform that could not be estimated or is numerically unstable.
	ErrDegenerateHomography = errors.New("degenerate homography")
)
