package packet

import "net"

// UDPView is the source/destination address pair of a packet that
// arrived from, or will be sent over, a UDP socket.
type UDPView struct {
	Source      *net.UDPAddr
	Destination *net.UDPAddr
}

// RTPView is the parsed RTP header plus a subslice pointing at the
// payload, sharing storage with the packet's backing buffer.
type RTPView struct {
	SourceID    uint32
	SeqNum      uint16
	Timestamp   uint32
	Duration    uint32 // samples represented by this packet
	PayloadType uint8
	Marker      bool
	Payload     Slice
}

// FECScheme identifies a wire-format FEC footer/header layout.
type FECScheme uint8

const (
	// SchemeNone means the packet carries no FEC view.
	SchemeNone FECScheme = iota
	// SchemeRS8M is Reed-Solomon with an 8-bit ESI and a 6-byte footer/header.
	SchemeRS8M
	// SchemeLDPCStaircase is LDPC-Staircase with a 16-bit ESI and an 8-byte footer/header.
	SchemeLDPCStaircase
)

func (s FECScheme) String() string {
	switch s {
	case SchemeRS8M:
		return "RS8M"
	case SchemeLDPCStaircase:
		return "LDPC"
	default:
		return "none"
	}
}

// FECView is the parsed FEC footer/header plus a subslice pointing at
// the payload.
type FECView struct {
	Scheme           FECScheme
	SourceBlockNum   uint16 // sbn
	EncodingSymbolID uint32 // esi; fits 8 bits for RS8M, 16 for LDPC
	SourceBlockLen   uint16 // k
	BlockLen         uint16 // n = k+m
	Payload          Slice
}
