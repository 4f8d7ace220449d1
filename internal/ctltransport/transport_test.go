package ctltransport

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

func TestServerClientRoundTrip(t *testing.T) {
	addr := freeUDPAddr(t)
	log := zap.NewNop()

	srv := NewServer(log, func(ctx context.Context, req Request) Response {
		if req.Op != "ping" {
			return Response{OK: false, Error: "unsupported op: " + req.Op}
		}
		return Response{OK: true}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, addr) }()
	time.Sleep(100 * time.Millisecond) // let the listener come up

	client := NewClient(log, addr)
	defer client.Close()

	resp, err := client.Submit(context.Background(), Request{Op: "ping"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.OK {
		t.Fatalf("resp.OK = false, error = %q", resp.Error)
	}
}

func TestServerReturnsStructuredData(t *testing.T) {
	addr := freeUDPAddr(t)
	log := zap.NewNop()

	type payload struct {
		Depth int `json:"depth"`
	}

	srv := NewServer(log, func(ctx context.Context, req Request) Response {
		data, _ := json.Marshal(payload{Depth: 42})
		return Response{OK: true, Data: data}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, addr)
	time.Sleep(100 * time.Millisecond)

	client := NewClient(log, addr)
	defer client.Close()

	resp, err := client.Submit(context.Background(), Request{Op: "status"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var got payload
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("unmarshal Data: %v", err)
	}
	if got.Depth != 42 {
		t.Fatalf("Depth = %d, want 42", got.Depth)
	}
}

func TestClientSubmitFailsAgainstUnreachableServer(t *testing.T) {
	addr := freeUDPAddr(t) // nobody listening here
	log := zap.NewNop()
	client := NewClient(log, addr)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if _, err := client.Submit(ctx, Request{Op: "ping"}); err == nil {
		t.Fatal("expected Submit against an unreachable server to fail")
	}
}
