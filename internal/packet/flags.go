package packet

// Flags is a bitmap selecting which parsed views are present on a
// Packet simultaneously. A packet is immutable after composition: once
// a flag is added its corresponding view never changes, and adding the
// same flag twice is a programming error (ErrDoubleFlag), not a
// recoverable condition.
type Flags uint32

const (
	// FlagUDP marks the UDP view (source/destination address pair) present.
	FlagUDP Flags = 1 << iota
	// FlagRTP marks the RTP view present.
	FlagRTP
	// FlagFEC marks the FEC view present.
	FlagFEC
	// FlagAudio marks the packet as carrying an audio (source) role.
	FlagAudio
	// FlagRepair marks the packet as carrying a FEC repair role.
	FlagRepair
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }
