// Package server's Server accepts management-protocol connections and
// dispatches each frame to a Theater Runtime, one goroutine per
// connection - the same "one connection, one goroutine, blocking reads"
// shape net/http's own server uses internally, applied here to a raw
// framed protocol instead of HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/golang/glog"

	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/manifest"
	"github.com/theater-rt/theater/store"
	"github.com/theater-rt/theater/theater"
)

// Server is the management protocol's TCP listener.
type Server struct {
	th       *theater.Theater
	st       *store.Store
	maxFrame int

	mu sync.Mutex
	ln net.Listener
}

func New(th *theater.Theater, st *store.Store, cfg *cmn.Config) *Server {
	max := cfg.Server.MaxFrameBytes
	if max <= 0 {
		max = 32 << 20
	}
	return &Server{th: th, st: st, maxFrame: max}
}

// ListenAndServe blocks accepting connections until ctx is canceled or
// the listener fails. Each connection is served until the client closes
// it or a frame read/write fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections; connections already accepted
// keep running until their client disconnects.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		body, err := readFrame(conn, s.maxFrame)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				glog.V(3).Infof("server: %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			s.send(conn, errorResponse(err))
			continue
		}

		if req.Type == ReqSubscribe {
			s.subscribe(connCtx, conn, req)
			continue
		}

		resp := s.dispatch(connCtx, req)
		if err := s.send(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) send(conn net.Conn, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(conn, b)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Type {
	case ReqStartActor:
		return s.startActor(ctx, req)
	case ReqStopActor:
		return s.stopActor(ctx, req)
	case ReqSendMessage:
		return s.sendMessage(ctx, req)
	case ReqGetActorStatus:
		return s.getActorStatus(req)
	case ReqGetActorState:
		return s.getActorState(req)
	case ReqGetActorEvents:
		return s.getActorEvents(req)
	default:
		return errorResponse(&cmn.ErrInternal{Event: "unknown request type " + string(req.Type)})
	}
}

func (s *Server) startActor(ctx context.Context, req Request) Response {
	root := req.ManifestRoot
	if root == "" {
		root = "."
	}
	m, err := manifest.Load(req.ManifestTOML, manifest.Resolver(root, s.st))
	if err != nil {
		return errorResponse(err)
	}
	var parent *cmn.ActorID
	if req.ParentID != "" {
		id, err := cmn.ParseActorID(req.ParentID)
		if err != nil {
			return errorResponse(err)
		}
		parent = &id
	}
	id, err := s.th.SpawnActor(ctx, m, parent)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Type: RespActorStarted, ActorID: id.String()}
}

func (s *Server) stopActor(ctx context.Context, req Request) Response {
	id, err := cmn.ParseActorID(req.ActorID)
	if err != nil {
		return errorResponse(err)
	}
	if err := s.th.StopActor(ctx, id, req.Graceful); err != nil {
		return errorResponse(err)
	}
	return Response{Type: RespActorStopped, ActorID: id.String()}
}

func (s *Server) sendMessage(ctx context.Context, req Request) Response {
	id, err := cmn.ParseActorID(req.ActorID)
	if err != nil {
		return errorResponse(err)
	}
	if req.Input == nil {
		return errorResponse(&cmn.ErrTypeMismatch{Name: "input"})
	}
	out, err := s.th.SendMessage(ctx, id, req.Function, *req.Input)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Type: RespActorResult, ActorID: id.String(), Result: &out}
}

func (s *Server) getActorStatus(req Request) Response {
	id, err := cmn.ParseActorID(req.ActorID)
	if err != nil {
		return errorResponse(err)
	}
	status, err := s.th.GetActorStatus(id)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Type: RespActorStatus, ActorID: id.String(), Status: &status}
}

func (s *Server) getActorState(req Request) Response {
	id, err := cmn.ParseActorID(req.ActorID)
	if err != nil {
		return errorResponse(err)
	}
	state, err := s.th.GetActorState(id)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Type: RespActorStatus, ActorID: id.String(), State: string(state)}
}

func (s *Server) getActorEvents(req Request) Response {
	id, err := cmn.ParseActorID(req.ActorID)
	if err != nil {
		return errorResponse(err)
	}
	events, err := s.th.GetActorEvents(id)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Type: RespActorStatus, ActorID: id.String(), Events: events}
}

// subscribe streams every chain event newly appended to req.ActorID as
// its own ActorEvent frame until the client disconnects or the actor's
// event channel closes.
func (s *Server) subscribe(ctx context.Context, conn net.Conn, req Request) {
	id, err := cmn.ParseActorID(req.ActorID)
	if err != nil {
		s.send(conn, errorResponse(err))
		return
	}
	ch, err := s.th.Subscribe(id)
	if err != nil {
		s.send(conn, errorResponse(err))
		return
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.send(conn, actorEventResponse(id, ev)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func actorEventResponse(id cmn.ActorID, ev chain.Event) Response {
	e := ev
	return Response{Type: RespActorEvent, ActorID: id.String(), Event: &e}
}
