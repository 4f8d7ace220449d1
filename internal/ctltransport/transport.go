// Package ctltransport carries control-plane task submissions between
// a sender or receiver process and a remote operator (e.g. roc-monitor
// or a peer endpoint wanting to add/remove an endpoint set) over a QUIC
// stream: reliable and ordered, deliberately distinct from the lossy
// audio UDP path the pipelines themselves use.
package ctltransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

const alpn = "roc-ctl/1"

// Request is one control-plane task submission. Op names the operation
// as the cmd/ binaries' handlers spell it (e.g. "add_endpoint_set",
// "create_endpoint", "set_endpoint_dest", "delete_endpoint", "status");
// Args carries its operation-specific parameters as raw JSON.
type Request struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the result of one Request. Data carries operation-specific
// results (e.g. a status snapshot) as raw JSON; most operations leave it
// nil and signal purely through OK/Error.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler executes one decoded Request and produces a Response. The
// pipeline side implements this by translating Op/Args into a
// task.Func and running it through task.Pipeline.SubmitSync.
type Handler func(ctx context.Context, req Request) Response

// Server accepts control connections from operator processes and
// dispatches each request on its own stream to Handler.
type Server struct {
	log     *zap.Logger
	handler Handler
}

// NewServer constructs a control-plane server.
func NewServer(log *zap.Logger, handler Handler) *Server {
	return &Server{log: log, handler: handler}
}

// Serve listens on addr until ctx is cancelled. Each accepted
// connection may carry many sequential request/response streams.
func (s *Server) Serve(ctx context.Context, addr string) error {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return fmt.Errorf("ctltransport: tls: %w", err)
	}

	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{MaxIdleTimeout: 30 * time.Second})
	if err != nil {
		return fmt.Errorf("ctltransport: listen %s: %w", addr, err)
	}
	defer ln.Close()

	s.log.Info("ctltransport: listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("ctltransport: accept failed", zap.Error(err))
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(ctx, stream)
	}
}

func (s *Server) serveStream(ctx context.Context, stream quic.Stream) {
	defer stream.Close()

	var req Request
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		if err != io.EOF {
			s.log.Warn("ctltransport: decode request failed", zap.Error(err))
		}
		return
	}

	resp := s.handler(ctx, req)
	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		s.log.Warn("ctltransport: encode response failed", zap.Error(err))
	}
}

// Client submits control-plane requests to one remote pipeline process,
// reconnecting with backoff on stream failure. Synchronous-submission
// deadlines are the caller's ctx, not Client state.
type Client struct {
	log  *zap.Logger
	addr string

	conn quic.Connection
}

// NewClient constructs a control-plane client targeting addr. Dial is
// lazy: the first Submit call connects.
func NewClient(log *zap.Logger, addr string) *Client {
	return &Client{log: log, addr: addr}
}

// Submit sends req on a fresh stream and waits for a Response or for
// ctx to expire. On a transport failure it reconnects with exponential
// backoff, bounded by ctx's deadline.
func (c *Client) Submit(ctx context.Context, req Request) (Response, error) {
	op := func() (Response, error) {
		if err := c.ensureConn(ctx); err != nil {
			return Response{}, err
		}
		stream, err := c.conn.OpenStreamSync(ctx)
		if err != nil {
			c.conn = nil
			return Response{}, err
		}
		defer stream.Close()

		if err := json.NewEncoder(stream).Encode(req); err != nil {
			return Response{}, err
		}
		var resp Response
		if err := json.NewDecoder(stream).Decode(&resp); err != nil {
			return Response{}, err
		}
		return resp, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
}

func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := quic.DialAddr(ctx, c.addr, &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}, &quic.Config{MaxIdleTimeout: 30 * time.Second})
	if err != nil {
		return fmt.Errorf("ctltransport: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

// Close releases the client's connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.CloseWithError(0, "client closed")
	c.conn = nil
	return err
}

func selfSignedTLSConfig() (*tls.Config, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"roc"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{alpn}}, nil
}
