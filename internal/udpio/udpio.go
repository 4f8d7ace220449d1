// Package udpio is the thin network-event-loop collaborator the core
// pipelines depend on but do not implement themselves. It owns one UDP
// socket per transport endpoint: the sender's outbound writers, and the
// receiver's inbound readers feeding packets into the router.
// The network loop runs on its own goroutine and never shares the
// audio pipeline's single-threaded execution.
package udpio

import (
	"context"
	"net"

	"go.uber.org/zap"

	"roc/internal/fec"
	"roc/internal/packet"
	"roc/internal/rtp"
)

// Sender writes composed wire packets to one destination UDP address.
// It implements the interleaver's Downstream interface, making it the
// final stage of the sender pipeline.
type Sender struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
	log  *zap.Logger
}

// NewSender opens a UDP socket bound to localAddr (empty for any port)
// that sends every packet to dst.
func NewSender(localAddr, dst string, log *zap.Logger) (*Sender, error) {
	dstAddr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return nil, err
	}
	var laddr *net.UDPAddr
	if localAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			return nil, err
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Sender{conn: conn, dst: dstAddr, log: log}, nil
}

// Write sends p's raw bytes over the socket and releases p, regardless
// of whether the send succeeded; the sender's write policy is
// that a send never blocks or fails visibly to the pipeline above it.
func (s *Sender) Write(p *packet.Packet) error {
	defer p.Release()
	_, err := s.conn.WriteToUDP(p.Data().Bytes(), s.dst)
	if err != nil && s.log != nil {
		s.log.Warn("udpio: send failed", zap.Error(err))
	}
	return nil
}

// SetDest retargets subsequent sends at a new destination address.
// Call from the pipeline's task worker so it never races Write.
func (s *Sender) SetDest(dst string) error {
	addr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return err
	}
	s.dst = addr
	return nil
}

// Close releases the socket.
func (s *Sender) Close() error { return s.conn.Close() }

// Dispatcher receives one parsed packet per inbound UDP datagram.
type Dispatcher interface {
	Dispatch(p *packet.Packet) error
}

// EndpointKind distinguishes the two sibling transport endpoints an
// endpoint set may bind: a bare-RTP or RTP+FEC-source endpoint carries
// a full RTP header with the FEC footer (if any) trailing the payload;
// a repair endpoint carries only the FEC header leading the payload,
// with no RTP header at all. One UDP socket binds to exactly one kind,
// which is how the receiver resolves the ambiguity a single shared
// socket would have in telling a repair datagram apart from a source
// one.
type EndpointKind int

const (
	// EndpointSource carries RTP, optionally with a trailing FEC footer.
	EndpointSource EndpointKind = iota
	// EndpointRepair carries only a leading FEC header plus payload.
	EndpointRepair
)

// Receiver reads UDP datagrams on its own goroutine, wraps each in a
// pool packet with UDP+RTP/FEC views appropriate to its endpoint kind,
// and hands it to a Dispatcher (the router). It never blocks the audio
// pipeline: a failed parse or exhausted pool just drops the datagram and
// continues.
type Receiver struct {
	conn    *net.UDPConn
	pktPool *packet.Pool
	bufPool *packet.BufferPool
	dsp     Dispatcher
	log     *zap.Logger
	kind    EndpointKind
	scheme  packet.FECScheme // SchemeNone for a bare-RTP endpoint
	format  rtp.SampleFormat
	mask    rtp.ChannelMask
	shift   int // origin shift aligning the parsed payload in its buffer

	scratch []byte // drains a datagram when the buffer pool is empty
}

// NewReceiver opens a UDP socket listening on addr for one endpoint of
// the given kind/scheme. format and mask describe the PCM payload the
// sender was configured with; the parser needs them to derive each
// packet's duration in samples from its payload length, since RTP
// itself never carries a duration on the wire.
func NewReceiver(addr string, kind EndpointKind, scheme packet.FECScheme, format rtp.SampleFormat, mask rtp.ChannelMask, pktPool *packet.Pool, bufPool *packet.BufferPool, dsp Dispatcher, log *zap.Logger) (*Receiver, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	// Datagrams land in the buffer at the same origin shift the sender's
	// composers use, so the parsed payload views are aligned too. A
	// source datagram's payload sits behind the RTP header; a repair
	// datagram's sits behind its FEC header.
	hdrLen := rtp.HeaderLen
	if kind == EndpointRepair {
		hdrLen = fecFooterLen(scheme)
	}
	return &Receiver{
		conn: conn, pktPool: pktPool, bufPool: bufPool, dsp: dsp, log: log,
		kind: kind, scheme: scheme, format: format, mask: mask,
		shift:   rtp.AlignOffset(hdrLen, rtp.PayloadAlign),
		scratch: make([]byte, bufPool.BlockSize()),
	}, nil
}

// Run reads datagrams until ctx is cancelled or the socket errors.
func (r *Receiver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	for {
		buf, err := r.bufPool.Get()
		if err != nil {
			// Still consume the datagram so the socket doesn't back up
			// and the loop doesn't spin without reading anything.
			if _, _, rerr := r.conn.ReadFromUDP(r.scratch); rerr != nil && ctx.Err() != nil {
				return nil
			}
			if r.log != nil {
				r.log.Warn("udpio: buffer pool exhausted, dropping arrival", zap.Error(err))
			}
			continue
		}
		raw := buf.Bytes()
		n, from, err := r.conn.ReadFromUDP(raw[r.shift:])
		if err != nil {
			buf.Release()
			if ctx.Err() != nil {
				return nil
			}
			if r.log != nil {
				r.log.Warn("udpio: read failed", zap.Error(err))
			}
			continue
		}
		data, err := buf.Narrow(r.shift, n)
		if err != nil {
			buf.Release()
			continue
		}
		buf.Release()

		p, err := r.buildPacket(data, from)
		if err != nil {
			continue
		}
		if err := r.dsp.Dispatch(p); err != nil && r.log != nil {
			r.log.Warn("udpio: dispatch failed", zap.Error(err))
		}
	}
}

// buildPacket wraps one received datagram in a pool packet. It owns
// cleanup: on any failure both the packet and the data slice go back to
// their pools, so the caller only ever sees a fully-built packet or an
// error with nothing left to release.
func (r *Receiver) buildPacket(buf packet.Slice, from *net.UDPAddr) (*packet.Packet, error) {
	p, err := r.pktPool.Get()
	if err != nil {
		buf.Release()
		return nil, err
	}
	if err := p.SetData(buf); err != nil {
		buf.Release()
		p.Release()
		return nil, err
	}
	if err := p.AddUDP(packet.UDPView{Source: from}); err != nil {
		p.Release()
		return nil, err
	}

	if r.kind == EndpointRepair {
		err = r.buildRepair(p, buf)
	} else {
		err = r.buildSource(p, buf)
	}
	if err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// buildSource parses the RTP header, then, if this endpoint carries
// FEC, the trailing footer, narrowing the RTP payload view to exclude
// it.
func (r *Receiver) buildSource(p *packet.Packet, buf packet.Slice) error {
	h, hdrLen, err := rtp.Parse(buf.Bytes())
	if err != nil {
		return err
	}

	payloadLen := buf.Len() - hdrLen
	var sbn uint16
	var esi uint32
	var k, n uint16
	if r.scheme != packet.SchemeNone {
		footerLen := fecFooterLen(r.scheme)
		payloadLen -= footerLen
		if payloadLen < 0 {
			return rtp.ErrTruncated
		}
		footer := buf.Bytes()[hdrLen+payloadLen : buf.Len()]
		sbn, esi, k, n = parseFooter(r.scheme, footer)
	}

	payload, err := buf.Narrow(hdrLen, payloadLen)
	if err != nil {
		return err
	}
	bytesPerFrame := r.mask.Count() * r.format.BytesPerSample()
	if err := p.AddRTP(packet.RTPView{
		SourceID: h.SourceID, SeqNum: h.SeqNum, Timestamp: h.Timestamp,
		Duration:    uint32(payloadLen / bytesPerFrame),
		PayloadType: h.PayloadType, Marker: h.Marker, Payload: payload,
	}); err != nil {
		return err
	}
	if r.scheme != packet.SchemeNone {
		if err := p.AddFEC(packet.FECView{
			Scheme: r.scheme, SourceBlockNum: sbn, EncodingSymbolID: esi,
			SourceBlockLen: k, BlockLen: n, Payload: payload.Retain(),
		}); err != nil {
			return err
		}
	}
	return p.MarkAudio()
}

// buildRepair parses the leading FEC header and treats the remainder of
// the datagram as the repair payload; there is no RTP view.
func (r *Receiver) buildRepair(p *packet.Packet, buf packet.Slice) error {
	footerLen := fecFooterLen(r.scheme)
	if buf.Len() < footerLen {
		return rtp.ErrTruncated
	}
	sbn, esi, k, n := parseFooter(r.scheme, buf.Bytes()[:footerLen])

	payload, err := buf.Narrow(footerLen, buf.Len()-footerLen)
	if err != nil {
		return err
	}
	if err := p.AddFEC(packet.FECView{
		Scheme: r.scheme, SourceBlockNum: sbn, EncodingSymbolID: esi,
		SourceBlockLen: k, BlockLen: n, Payload: payload,
	}); err != nil {
		return err
	}
	return p.MarkRepair()
}

func fecFooterLen(scheme packet.FECScheme) int {
	if scheme == packet.SchemeLDPCStaircase {
		return ldpcFooterLen
	}
	return rs8mFooterLen
}

// parseFooter decodes either wire footer layout into the
// scheme-independent (sbn, esi, k, n) shape FECView carries.
func parseFooter(scheme packet.FECScheme, footer []byte) (sbn uint16, esi uint32, k, n uint16) {
	if scheme == packet.SchemeLDPCStaircase {
		f := fec.ParseLDPCFooter(footer)
		return f.SBN, uint32(f.ESI), f.K, f.N
	}
	f := fec.ParseRS8MFooter(footer)
	return f.SBN, uint32(f.ESI), f.K, f.K + uint16(f.M)
}

const (
	rs8mFooterLen = fec.RS8MFooterLen
	ldpcFooterLen = fec.LDPCFooterLen
)
