package server

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/handler"
	"github.com/theater-rt/theater/loader"
	"github.com/theater-rt/theater/store"
	"github.com/theater-rt/theater/supervisor"
	"github.com/theater-rt/theater/theater"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "theater-server-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	ctx := context.Background()
	ld := loader.New(ctx)
	reg := handler.NewRegistry()
	sup := supervisor.New()
	cfg := cmn.GCO.Get()
	th := theater.New(cfg, st, ld, reg, sup)
	srv := New(th, st, cfg)
	return srv, func() { os.RemoveAll(dir) }
}

func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", addr, err)
	return nil
}

func roundTrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := writeFrame(conn, body); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	respBody, err := readFrame(conn, 1<<20)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestGetActorStatusOnUnknownActorReturnsActorError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx, addr)

	conn := dialRetry(t, addr)
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Type: ReqGetActorStatus, ActorID: cmn.NewActorID().String()})
	if resp.Type != RespActorError {
		t.Fatalf("expected ActorError, got %s", resp.Type)
	}
}

func TestStopActorOnUnknownActorReturnsActorError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx, addr)

	conn := dialRetry(t, addr)
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Type: ReqStopActor, ActorID: cmn.NewActorID().String(), Graceful: true})
	if resp.Type != RespActorError {
		t.Fatalf("expected ActorError, got %s", resp.Type)
	}
}

func TestUnknownRequestTypeReturnsActorError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx, addr)

	conn := dialRetry(t, addr)
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Type: RequestType("Bogus")})
	if resp.Type != RespActorError {
		t.Fatalf("expected ActorError, got %s", resp.Type)
	}
}
