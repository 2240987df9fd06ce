//go:build windows

package conductor

import "errors"

// Sentinel errors classifying every failure surface the conductor can
// report, per the broad taxonomy the driver is specified against:
// process creation, injection, export resolution, remote thread
// lifecycle, IPC, snapshot, state load, and catch-all OS failures. Wrap
// one of these with %w so callers can classify a failure with
// errors.Is without string matching.
var (
	ErrProcessCreate = errors.New("conductor: process create failed")
	ErrInjectDLL     = errors.New("conductor: dll injection failed")
	ErrResolveExport = errors.New("conductor: export resolution failed")
	ErrThreadCreate  = errors.New("conductor: remote thread create failed")
	ErrThreadJoin    = errors.New("conductor: remote thread join failed")
	ErrIPC           = errors.New("conductor: ipc failed")
	ErrSnapshot      = errors.New("conductor: snapshot failed")
	ErrLoad          = errors.New("conductor: state load failed")
	ErrOS            = errors.New("conductor: os operation failed")
)
