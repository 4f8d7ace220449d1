// Package endpoint models endpoint sets: one logical stream identity
// binding up to two sibling transport endpoints (audio-source and
// audio-repair) that must agree on their FEC scheme. Sets are created
// and torn down through control-plane tasks, never directly from the
// audio path; the Table below owns the registry and funnels every
// mutation through the owning pipeline's task worker.
package endpoint

import (
	"errors"
	"fmt"

	"roc/internal/packet"
)

// Proto identifies one endpoint's wire protocol.
type Proto int

const (
	// ProtoRTP is a bare RTP audio endpoint, no FEC.
	ProtoRTP Proto = iota
	// ProtoRTPRS8MSource is RTP audio with a trailing RS8M footer.
	ProtoRTPRS8MSource
	// ProtoRS8MRepair is an RS8M repair flow: FEC header plus payload, no RTP.
	ProtoRS8MRepair
	// ProtoRTPLDPCSource is RTP audio with a trailing LDPC-Staircase footer.
	ProtoRTPLDPCSource
	// ProtoLDPCRepair is an LDPC-Staircase repair flow.
	ProtoLDPCRepair
)

// ParseProto maps a protocol identifier string to its Proto.
func ParseProto(s string) (Proto, error) {
	switch s {
	case "rtp":
		return ProtoRTP, nil
	case "rtp+rs8m":
		return ProtoRTPRS8MSource, nil
	case "rs8m":
		return ProtoRS8MRepair, nil
	case "rtp+ldpc":
		return ProtoRTPLDPCSource, nil
	case "ldpc":
		return ProtoLDPCRepair, nil
	default:
		return 0, fmt.Errorf("endpoint: unknown protocol %q", s)
	}
}

func (p Proto) String() string {
	switch p {
	case ProtoRTP:
		return "rtp"
	case ProtoRTPRS8MSource:
		return "rtp+rs8m"
	case ProtoRS8MRepair:
		return "rs8m"
	case ProtoRTPLDPCSource:
		return "rtp+ldpc"
	case ProtoLDPCRepair:
		return "ldpc"
	default:
		return "unknown"
	}
}

// Scheme returns the FEC scheme this protocol participates in.
func (p Proto) Scheme() packet.FECScheme {
	switch p {
	case ProtoRTPRS8MSource, ProtoRS8MRepair:
		return packet.SchemeRS8M
	case ProtoRTPLDPCSource, ProtoLDPCRepair:
		return packet.SchemeLDPCStaircase
	default:
		return packet.SchemeNone
	}
}

// IsRepair reports whether the protocol carries a repair flow.
func (p Proto) IsRepair() bool {
	return p == ProtoRS8MRepair || p == ProtoLDPCRepair
}

// Writer accepts packets routed to an endpoint.
type Writer interface {
	Write(p *packet.Packet) error
}

// Endpoint is one transport binding within a set: a destination address
// on the sender side, a bound listen address plus an output writer on
// the receiver side.
type Endpoint struct {
	proto Proto
	addr  string
	out   Writer
}

// Proto returns the endpoint's wire protocol.
func (e *Endpoint) Proto() Proto { return e.proto }

// Addr returns the endpoint's current address.
func (e *Endpoint) Addr() string { return e.addr }

// SetDestination retargets the endpoint's address.
func (e *Endpoint) SetDestination(addr string) { e.addr = addr }

// SetOutput binds the writer that receives this endpoint's packets.
func (e *Endpoint) SetOutput(w Writer) { e.out = w }

// Output returns the bound writer, nil if none has been set.
func (e *Endpoint) Output() Writer { return e.out }

var (
	// ErrEndpointExists is returned when a set already binds an endpoint
	// of the requested role.
	ErrEndpointExists = errors.New("endpoint: set already binds that endpoint")
	// ErrIncompatible is returned when two sibling endpoints disagree on
	// their FEC scheme, or when a repair endpoint is added to a bare-RTP
	// set.
	ErrIncompatible = errors.New("endpoint: sibling endpoints have incompatible protocols")
	// ErrNoSuchEndpoint is returned when the named endpoint is not bound.
	ErrNoSuchEndpoint = errors.New("endpoint: no such endpoint in set")
	// ErrNoSuchSet is returned when the named endpoint set does not exist.
	ErrNoSuchSet = errors.New("endpoint: no such endpoint set")
)

// Set binds up to two sibling endpoints. A set is valid when it holds
// either a single bare-RTP source endpoint, or a source+repair pair
// whose protocols share a scheme.
type Set struct {
	id     uint64
	source *Endpoint
	repair *Endpoint
}

// ID returns the set's table-assigned identifier.
func (s *Set) ID() uint64 { return s.id }

// Source returns the source endpoint, nil if unbound.
func (s *Set) Source() *Endpoint { return s.source }

// Repair returns the repair endpoint, nil if unbound.
func (s *Set) Repair() *Endpoint { return s.repair }

// CreateEndpoint binds a new endpoint of the given protocol. Each role
// (source or repair) may be bound at most once, and sibling protocols
// must agree on their scheme.
func (s *Set) CreateEndpoint(proto Proto, addr string) (*Endpoint, error) {
	e := &Endpoint{proto: proto, addr: addr}
	if proto.IsRepair() {
		if s.repair != nil {
			return nil, ErrEndpointExists
		}
		if s.source != nil && s.source.proto.Scheme() != proto.Scheme() {
			return nil, ErrIncompatible
		}
		s.repair = e
		return e, nil
	}
	if s.source != nil {
		return nil, ErrEndpointExists
	}
	if s.repair != nil && s.repair.proto.Scheme() != proto.Scheme() {
		return nil, ErrIncompatible
	}
	s.source = e
	return e, nil
}

// DeleteEndpoint unbinds the endpoint of the given role.
func (s *Set) DeleteEndpoint(repair bool) error {
	if repair {
		if s.repair == nil {
			return ErrNoSuchEndpoint
		}
		s.repair = nil
		return nil
	}
	if s.source == nil {
		return ErrNoSuchEndpoint
	}
	s.source = nil
	return nil
}
