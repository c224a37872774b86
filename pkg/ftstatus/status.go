// Package ftstatus defines the typed error kinds surfaced by the
// relocation engine's core, built on grpc's codes/status so callers can
// discriminate error kinds programmatically instead of parsing messages.
package ftstatus

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one of the error kinds named in the error handling design.
type Kind int

const (
	// Overflow: a device size or requested storage size exceeds the
	// representable range, or alignment constraints disagree.
	Overflow Kind = iota
	// NoSpace: free space and holes cannot accommodate the permutation,
	// or a requested exact primary size exceeds what is available.
	NoSpace
	// Proto: extent-file parse failure.
	Proto
	// Internal: loop-file and free-space extents overlap on physical, or
	// a sanity check after allocation finds unfulfilled leftovers.
	Internal
	// NotConnected: the I/O collaborator was not open at init.
	NotConnected
	// IO: propagated verbatim from the I/O collaborator's copy/flush.
	IO
)

func (k Kind) String() string {
	switch k {
	case Overflow:
		return "OVERFLOW"
	case NoSpace:
		return "NO_SPACE"
	case Proto:
		return "PROTO"
	case Internal:
		return "INTERNAL"
	case NotConnected:
		return "NOT_CONNECTED"
	case IO:
		return "IO"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) grpcCode() codes.Code {
	switch k {
	case Overflow:
		return codes.OutOfRange
	case NoSpace:
		return codes.ResourceExhausted
	case Proto:
		return codes.InvalidArgument
	case Internal:
		return codes.Internal
	case NotConnected:
		return codes.FailedPrecondition
	case IO:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// Errorf builds an error of the given kind carrying a grpc Status, so
// that callers crossing a process boundary can recover the Kind with
// KindOf even after the error has been serialized and deserialized.
func Errorf(k Kind, format string, args ...interface{}) error {
	return status.Errorf(k.grpcCode(), "%s: %s", k, fmt.Sprintf(format, args...))
}

// KindOf recovers the Kind carried by an error produced by Errorf. The
// second return value is false if err was not produced by this package.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return 0, false
	}
	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	switch st.Code() {
	case codes.OutOfRange:
		return Overflow, true
	case codes.ResourceExhausted:
		return NoSpace, true
	case codes.InvalidArgument:
		return Proto, true
	case codes.Internal:
		return Internal, true
	case codes.FailedPrecondition:
		return NotConnected, true
	case codes.Unavailable:
		return IO, true
	default:
		return 0, false
	}
}

// Is reports whether err was produced by Errorf with the given Kind.
func Is(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}
