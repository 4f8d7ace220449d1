package fec

import (
	"encoding/binary"
)

// RS8MFooterLen is the size of the RS8M footer/header: source
// packets append it after their payload, repair packets prepend it.
const RS8MFooterLen = 6

// RS8MFooter is the parsed `[sbn:16 | k:16 | esi:8 | m:8]` layout.
type RS8MFooter struct {
	SBN uint16
	K   uint16
	ESI uint8
	M   uint8
}

// WriteRS8MFooter composes the 6-byte footer into buf[:6].
func WriteRS8MFooter(buf []byte, f RS8MFooter) {
	binary.BigEndian.PutUint16(buf[0:2], f.SBN)
	binary.BigEndian.PutUint16(buf[2:4], f.K)
	buf[4] = f.ESI
	buf[5] = f.M
}

// ParseRS8MFooter is the inverse of WriteRS8MFooter.
func ParseRS8MFooter(buf []byte) RS8MFooter {
	return RS8MFooter{
		SBN: binary.BigEndian.Uint16(buf[0:2]),
		K:   binary.BigEndian.Uint16(buf[2:4]),
		ESI: buf[4],
		M:   buf[5],
	}
}

// rs8mMaxBlockLength bounds k+m so the 8-bit ESI field never overflows.
const rs8mMaxBlockLength = 255

// RS8MCodec implements both BlockEncoder and BlockDecoder using a
// systematic Reed-Solomon code over GF(256) with a Cauchy generator
// matrix, which is maximum-distance-separable: any m losses out of k+m
// symbols are recoverable. The same value serves as encoder on the
// sender and decoder on the receiver; each side only calls the half of
// the interface it needs.
type RS8MCodec struct {
	k, m, payloadSize int
	source            [][]byte // k slots; nil until Set
	repair            [][]byte // m slots; nil until Set/Fill
	present           []bool   // k+m slots; true once Set for that index
}

// NewRS8MCodec returns a zero-value codec ready for Begin.
func NewRS8MCodec() *RS8MCodec { return &RS8MCodec{} }

func (c *RS8MCodec) MaxBlockLength() int { return rs8mMaxBlockLength }

func (c *RS8MCodec) Begin(k, m, payloadSize int) error {
	if k+m > rs8mMaxBlockLength || k <= 0 || m < 0 {
		return ErrOutOfRange
	}
	c.k, c.m, c.payloadSize = k, m, payloadSize
	c.source = make([][]byte, k)
	c.repair = make([][]byte, m)
	c.present = make([]bool, k+m)
	return nil
}

func (c *RS8MCodec) Set(index int, payload []byte) error {
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

// cauchyRow returns the Cauchy-matrix coefficients for repair row j
// against all k source columns: coeff[i] = 1/(x_j + y_i), with
// x_j = k+j and y_i = i chosen distinct so every coefficient is defined
// and every square submatrix of the resulting matrix is invertible.
func cauchyRow(k, m, j int) []byte {
	row := make([]byte, k)
	xj := byte(k + j)
	for i := 0; i < k; i++ {
		yi := byte(i)
		row[i] = gfInv(gfAdd(xj, yi))
	}
	return row
}

func (c *RS8MCodec) Fill() error {
	for i := 0; i < c.k; i++ {
		if c.source[i] == nil {
			return ErrEncoderFailed
		}
	}
	for j := 0; j < c.m; j++ {
		row := cauchyRow(c.k, c.m, j)
		out := make([]byte, c.payloadSize)
		for i := 0; i < c.k; i++ {
			coeff := row[i]
			if coeff == 0 {
				continue
			}
			src := c.source[i]
			for b := 0; b < c.payloadSize && b < len(src); b++ {
				out[b] ^= gfMul(coeff, src[b])
			}
		}
		c.repair[j] = out
		c.present[c.k+j] = true
	}
	return nil
}

func (c *RS8MCodec) Get(index int) ([]byte, error) {
	if index < c.k || index >= c.k+c.m {
		return nil, ErrOutOfRange
	}
	if c.repair[index-c.k] == nil {
		return nil, ErrEncoderFailed
	}
	return c.repair[index-c.k], nil
}

// Repair reconstructs source packet i from whatever sources and
// repairs have been Set. It solves the linear system formed by the
// Cauchy rows of the received repair packets against the missing
// source columns via Gauss-Jordan elimination over GF(256).
func (c *RS8MCodec) Repair(i int) ([]byte, bool) {
	if i < 0 || i >= c.k {
		return nil, false
	}
	if c.present[i] {
		return c.source[i], true
	}

	var missing []int
	for idx := 0; idx < c.k; idx++ {
		if !c.present[idx] {
			missing = append(missing, idx)
		}
	}
	var repairRows []int // repair indices (0..m-1) that are present
	for j := 0; j < c.m; j++ {
		if c.present[c.k+j] {
			repairRows = append(repairRows, j)
		}
	}
	if len(repairRows) < len(missing) {
		return nil, false // not enough redundancy to solve
	}

	// Build an (len(missing) x len(missing)) coefficient matrix A and an
	// RHS matrix B (one column per payload byte), using the first
	// len(missing) available repair rows.
	n := len(missing)
	a := make([][]byte, n)
	b := make([][]byte, n)
	for r := 0; r < n; r++ {
		j := repairRows[r]
		row := cauchyRow(c.k, c.m, j)
		a[r] = make([]byte, n)
		for col, srcIdx := range missing {
			a[r][col] = row[srcIdx]
		}
		// RHS = repair payload XOR contribution of known sources.
		rhs := make([]byte, c.payloadSize)
		copy(rhs, c.repair[j])
		for idx := 0; idx < c.k; idx++ {
			if c.present[idx] {
				coeff := row[idx]
				if coeff == 0 {
					continue
				}
				src := c.source[idx]
				for byteIdx := 0; byteIdx < c.payloadSize && byteIdx < len(src); byteIdx++ {
					rhs[byteIdx] ^= gfMul(coeff, src[byteIdx])
				}
			}
		}
		b[r] = rhs
	}

	if !gaussJordan(a, b) {
		return nil, false
	}

	// b now holds the recovered payloads for `missing`, in order.
	for idx, srcIdx := range missing {
		buf := make([]byte, c.payloadSize)
		copy(buf, b[idx])
		c.source[srcIdx] = buf
		c.present[srcIdx] = true
	}
	return c.source[i], true
}

// gaussJordan solves a*x = b in place over GF(256), where a is n x n
// and each row of b is one payload's worth of bytes solved in parallel.
// Returns false if a is singular.
func gaussJordan(a, b [][]byte) bool {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if a[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot == -1 {
			return false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		inv := gfInv(a[col][col])
		for k := 0; k < n; k++ {
			a[col][k] = gfMul(a[col][k], inv)
		}
		for k := range b[col] {
			b[col][k] = gfMul(b[col][k], inv)
		}

		for row := 0; row < n; row++ {
			if row == col || a[row][col] == 0 {
				continue
			}
			factor := a[row][col]
			for k := 0; k < n; k++ {
				a[row][k] ^= gfMul(factor, a[col][k])
			}
			for k := range b[row] {
				b[row][k] ^= gfMul(factor, b[col][k])
			}
		}
	}
	return true
}

func (c *RS8MCodec) End() {
	c.source = nil
	c.repair = nil
	c.present = nil
}
