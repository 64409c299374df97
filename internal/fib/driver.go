// Package fib implements the FIB target-set reconciler (spec §4.6, T8,
// scenario 6): diffs a freshly computed route set against the kernel's
// currently installed routes, emits add/replace/delete operations in an
// order that never leaves a destination unreachable, and retries transient
// failures with exponential backoff. internal/fib/rtnetlink_driver.go
// provides the concrete Linux Driver; other platforms or tests supply their
// own.
package fib

import (
	"context"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

// Op is one of the three FIB mutations the reconciler can submit (spec
// §6.2).
type Op int

const (
	OpAdd Op = iota
	OpReplace
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	default:
		return "add"
	}
}

// Driver is the abstract FIB driver contract (spec §6.2): submit is a
// blocking round-trip (the event loop performs it as one of the three
// operations spec §5 permits to block), returning once the kernel (or
// whatever backs the driver) has acknowledged the operation or it has
// definitively failed.
type Driver interface {
	// Submit applies one route operation and blocks for its acknowledgment.
	Submit(ctx context.Context, op Op, route domain.RouteEntry) error

	// Dump streams the driver's current route table matching filter, for
	// initial synchronization after a driver channel loss (spec §7).
	Dump(ctx context.Context, filter domain.RouteEntry) ([]domain.RouteEntry, error)

	// SupportsSourceSpecific reports whether the driver can install
	// source-specific routes for family; if false the Router must have
	// already flattened such routes to destination-only (spec §6.2).
	SupportsSourceSpecific(family addr.Family) bool

	// Close releases any resources held by the driver (sockets, etc).
	Close() error
}
