// Package gameerr defines the error taxonomy used across the server so call
// sites can decide disposition (log-and-drop, kick, mark-disconnect, abort
// startup) without inspecting error strings.
package gameerr

import "fmt"

// Kind classifies an error by the disposition it calls for.
type Kind int

const (
	// Protocol errors are malformed frames, out-of-range codes, or
	// shape violations. Disposition: log, drop the packet.
	Protocol Kind = iota
	// Auth errors occur during the authentication handshake.
	// Disposition: kick with an explanation.
	Auth
	// Timeout means an expected frame did not arrive within the
	// deadline. Disposition: kick.
	Timeout
	// IO is a socket read/write failure. Disposition: mark the session
	// Disconnect; the sweep reclaims it.
	IO
	// Resource covers path traversal and missing-file errors during
	// resource sync. Disposition: kick.
	Resource
	// Compression covers deflate/inflate failures. Disposition: log,
	// drop the packet.
	Compression
	// Plugin covers a script error or an unexpectedly closed reply
	// channel. Disposition: treat as "no opinion"; never kill the
	// plugin task for one bad event.
	Plugin
	// Fatal covers invariant violations detected at startup (id space
	// exhausted before any clients connected, failure to bind a
	// socket). Disposition: abort startup.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Auth:
		return "auth"
	case Timeout:
		return "timeout"
	case IO:
		return "io"
	case Resource:
		return "resource"
	case Compression:
		return "compression"
	case Plugin:
		return "plugin"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a disposition Kind.
type Error struct {
	Kind Kind
	Op   string // short operation name, e.g. "frame.decode", "auth.key"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			return ge.Kind == kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
