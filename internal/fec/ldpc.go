package fec

import "encoding/binary"

// LDPCFooterLen is the size of the LDPC-Staircase footer/header.
const LDPCFooterLen = 8

// LDPCFooter is the parsed `[sbn:16 | esi:16 | k:16 | n:16]` layout.
type LDPCFooter struct {
	SBN uint16
	ESI uint16
	K   uint16
	N   uint16
}

// WriteLDPCFooter composes the 8-byte footer into buf[:8].
func WriteLDPCFooter(buf []byte, f LDPCFooter) {
	binary.BigEndian.PutUint16(buf[0:2], f.SBN)
	binary.BigEndian.PutUint16(buf[2:4], f.ESI)
	binary.BigEndian.PutUint16(buf[4:6], f.K)
	binary.BigEndian.PutUint16(buf[6:8], f.N)
}

// ParseLDPCFooter is the inverse of WriteLDPCFooter.
func ParseLDPCFooter(buf []byte) LDPCFooter {
	return LDPCFooter{
		SBN: binary.BigEndian.Uint16(buf[0:2]),
		ESI: binary.BigEndian.Uint16(buf[2:4]),
		K:   binary.BigEndian.Uint16(buf[4:6]),
		N:   binary.BigEndian.Uint16(buf[6:8]),
	}
}

const ldpcMaxBlockLength = 65535

// LDPCStaircaseCodec implements BlockEncoder/BlockDecoder with a
// staircase parity structure: the k source symbols are partitioned into
// m roughly-equal groups, each protected by exactly one XOR parity
// symbol. This is weaker than RS8MCodec (it recovers at most one loss
// per group, not m losses anywhere in the block), which is the real
// trade-off LDPC-Staircase makes for linear-time encode/decode instead
// of RS8M's matrix inversion.
type LDPCStaircaseCodec struct {
	k, m, payloadSize int
	source            [][]byte
	repair            [][]byte
	present           []bool
}

func NewLDPCStaircaseCodec() *LDPCStaircaseCodec { return &LDPCStaircaseCodec{} }

func (c *LDPCStaircaseCodec) MaxBlockLength() int { return ldpcMaxBlockLength }

func (c *LDPCStaircaseCodec) Begin(k, m, payloadSize int) error {
	if k+m > ldpcMaxBlockLength || k <= 0 || m <= 0 {
		return ErrOutOfRange
	}
	c.k, c.m, c.payloadSize = k, m, payloadSize
	c.source = make([][]byte, k)
	c.repair = make([][]byte, m)
	c.present = make([]bool, k+m)
	return nil
}

func (c *LDPCStaircaseCodec) Set(index int, payload []byte) error {
	if index < 0 || index >= c.k+c.m {
		return ErrOutOfRange
	}
	if index < c.k {
		c.source[index] = payload
	} else {
		c.repair[index-c.k] = payload
	}
	c.present[index] = true
	return nil
}

// group returns the [start,end) source-index range parity symbol j
// protects.
func (c *LDPCStaircaseCodec) group(j int) (start, end int) {
	base := c.k / c.m
	rem := c.k % c.m
	start = j*base + min(j, rem)
	end = start + base
	if j < rem {
		end++
	}
	return start, end
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (c *LDPCStaircaseCodec) Fill() error {
	for i := 0; i < c.k; i++ {
		if c.source[i] == nil {
			return ErrEncoderFailed
		}
	}
	for j := 0; j < c.m; j++ {
		start, end := c.group(j)
		out := make([]byte, c.payloadSize)
		for i := start; i < end; i++ {
			src := c.source[i]
			for b := 0; b < c.payloadSize && b < len(src); b++ {
				out[b] ^= src[b]
			}
		}
		c.repair[j] = out
		c.present[c.k+j] = true
	}
	return nil
}

func (c *LDPCStaircaseCodec) Get(index int) ([]byte, error) {
	if index < c.k || index >= c.k+c.m {
		return nil, ErrOutOfRange
	}
	if c.repair[index-c.k] == nil {
		return nil, ErrEncoderFailed
	}
	return c.repair[index-c.k], nil
}

func (c *LDPCStaircaseCodec) Repair(i int) ([]byte, bool) {
	if i < 0 || i >= c.k {
		return nil, false
	}
	if c.present[i] {
		return c.source[i], true
	}
	// Find which group covers i.
	for j := 0; j < c.m; j++ {
		start, end := c.group(j)
		if i < start || i >= end {
			continue
		}
		if !c.present[c.k+j] {
			return nil, false // parity for this group never arrived
		}
		missingInGroup := 0
		for idx := start; idx < end; idx++ {
			if !c.present[idx] {
				missingInGroup++
			}
		}
		if missingInGroup != 1 {
			return nil, false // staircase parity can only fix one loss per group
		}
		out := make([]byte, c.payloadSize)
		copy(out, c.repair[j])
		for idx := start; idx < end; idx++ {
			if idx == i {
				continue
			}
			src := c.source[idx]
			for b := 0; b < c.payloadSize && b < len(src); b++ {
				out[b] ^= src[b]
			}
		}
		c.source[i] = out
		c.present[i] = true
		return out, true
	}
	return nil, false
}

func (c *LDPCStaircaseCodec) End() {
	c.source = nil
	c.repair = nil
	c.present = nil
}
