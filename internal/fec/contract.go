// Package fec implements the pluggable FEC block-encoder/decoder
// contract, the RS8M and LDPC-Staircase wire footers, and the
// writer/reader that drive a block codec from the sender and receiver
// pipelines. RS8MCodec and LDPCStaircaseCodec are self-contained
// implementations of that contract; they make no claim of wire
// compatibility with OpenFEC's codecs.
package fec

import "errors"

// Errors a BlockEncoder/BlockDecoder may return. These are local: the
// writer marks itself dead on EncoderFailed and keeps forwarding source
// packets; the reader treats DecoderUnrecoverable as "leave the gap for
// silence concealment downstream," never as fatal.
var (
	ErrOutOfRange           = errors.New("fec: index out of range for current block")
	ErrEncoderFailed        = errors.New("fec: repair generation failed")
	ErrDecoderUnrecoverable = errors.New("fec: insufficient symbols to repair")
)

// BlockEncoder is the sender-side half of the contract: buffer k
// source payloads, then compute m repair payloads for the block.
type BlockEncoder interface {
	// Begin starts a new block of k source symbols and m repair symbols,
	// each payloadSize bytes. Returns ErrOutOfRange if k+m exceeds
	// MaxBlockLength.
	Begin(k, m, payloadSize int) error
	// Set records the payload for source packet index i (i<k). The
	// encoder treats this as a read-only view: it never writes into src.
	Set(index int, src []byte) error
	// Fill computes the m repair payloads from the k source payloads set
	// so far. Returns ErrEncoderFailed if generation could not complete.
	Fill() error
	// Get retrieves the payload computed for repair index i (k<=i<k+m).
	// Valid only after Fill.
	Get(index int) ([]byte, error)
	// End releases internal per-block state.
	End()
	// MaxBlockLength returns the largest k+m this encoder supports.
	MaxBlockLength() int
}

// BlockDecoder is the receiver-side half of the contract.
type BlockDecoder interface {
	// Begin starts tracking a new block of k source / m repair symbols.
	Begin(k, m, payloadSize int) error
	// Set records a payload received for block index i (0<=i<k+m),
	// whether it arrived as a source or repair packet.
	Set(index int, payload []byte) error
	// Repair attempts to reconstruct source packet i (i<k) from whatever
	// has been Set so far. ok is false when unrecoverable given the
	// symbols seen; Repair never blocks waiting for more to arrive; the
	// caller (the FEC reader) decides when to give up.
	Repair(i int) (payload []byte, ok bool)
	// End releases internal per-block state.
	End()
	// MaxBlockLength returns the largest k+m this decoder supports.
	MaxBlockLength() int
}
