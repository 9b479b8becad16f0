// Package native implements the process control core (spec components
// A, D, E and F) against FreeBSD's ptrace(2) interface. It is the only
// package in this module that issues a syscall; everything above it
// talks to *Controller and dbgcore values only.
package native
