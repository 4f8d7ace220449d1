package packet

import "errors"

// Error kinds from the propagation policy: local errors that the caller
// is expected to handle by dropping the offending unit of work and
// bumping a counter, never by panicking.
var (
	// ErrPoolExhausted is returned when a pool has no free packets or
	// buffers and its bounded capacity forbids growing further.
	ErrPoolExhausted = errors.New("packet: pool exhausted")

	// ErrWouldTruncate is returned when a slice operation would need to
	// grow a slice beyond its backing buffer's capacity.
	ErrWouldTruncate = errors.New("packet: slice would truncate")

	// ErrDoubleFlag is returned by the Packet.Add*/Mark* methods when a caller tries to
	// set a view flag that is already present; adding a flag twice is a
	// programming error, never a runtime condition to recover from.
	ErrDoubleFlag = errors.New("packet: flag already set")

	// ErrDataImmutable is returned when code attempts to reassign a
	// packet's backing data after composition.
	ErrDataImmutable = errors.New("packet: data already set")
)
