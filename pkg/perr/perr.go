// Package perr defines the error-kind sentinels from spec.md §7. Errors
// returned anywhere in the core wrap one of these with %w so a caller can
// classify with errors.Is without a bespoke error type hierarchy.
package perr

import "errors"

var (
	// ErrSessionFatal: AEAD MAC failure, PTP shm version mismatch, RTSP
	// parse error beyond recovery, sender socket reset. The session is
	// torn down; the supervisor keeps serving new connections.
	ErrSessionFatal = errors.New("session fatal")

	// ErrFrameDrop: decode failure, DSP failure, frame outdated at
	// state-evaluation, or a frame inside a FlushRequest window. Only the
	// frame is discarded.
	ErrFrameDrop = errors.New("frame dropped")

	// ErrTransient: peer not yet ready (anchor invalid, master clock not
	// stable). Substitute a silent frame and retry next tick.
	ErrTransient = errors.New("transient")

	// ErrConfiguration: unsupported timing protocol, missing session
	// shared key. Reply 4xx and refuse to open streams.
	ErrConfiguration = errors.New("configuration error")

	// ErrSupervisorFatal: failure to open PTP shm after retries, failure
	// to bind a listener. The process exits non-zero.
	ErrSupervisorFatal = errors.New("supervisor fatal")
)
