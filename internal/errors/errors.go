// Package errors re-exports github.com/cockroachdb/errors so the rest of
// the engine gets stack traces and error wrapping from one import path.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New   = crdb.New
	Newf  = crdb.Newf
	Wrap  = crdb.Wrap
	Wrapf = crdb.Wrapf
	Is    = crdb.Is
	As    = crdb.As

	WithHint   = crdb.WithHint
	WithDetail = crdb.WithDetail
)

// Sentinel errors. Check with errors.Is after wrapping.
var (
	// ErrNotFound indicates the requested node, link, community, or version
	// does not exist.
	ErrNotFound = New("not found")

	// ErrLeaseHeld indicates another precalc run currently holds the lease.
	ErrLeaseHeld = New("precalc lease held")

	// ErrBadCursor indicates a malformed pagination cursor.
	ErrBadCursor = New("malformed cursor")

	// ErrBadBounds indicates an inverted or non-finite bounding box.
	ErrBadBounds = New("invalid bounding box")

	// ErrDisabled indicates the engine is switched off in configuration.
	ErrDisabled = New("engine disabled")
)
