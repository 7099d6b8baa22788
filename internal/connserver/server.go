// Package connserver implements the connection server (C6): it accepts
// client connections, frames requests and responses over them using
// pkg/wire, and feeds decoded requests through a bounded worker pool to
// internal/dispatch. It is the only package that touches net.Conn.
package connserver

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/sandia-minimega/arraydb/internal/store"
	"github.com/sandia-minimega/arraydb/pkg/alog"
	"github.com/sandia-minimega/arraydb/pkg/wire"
)

// Dispatcher is the subset of internal/dispatch that Server depends on, so
// tests can substitute a stub.
type Dispatcher func(req wire.Request, adapter *store.Adapter) wire.Response

// Server owns zero or more listeners and a bounded worker pool shared
// across all of them. One goroutine per connection reads and writes
// frames; the actual dispatch of each request runs on the worker pool while
// the connection's goroutine waits for its result, so a connection only
// ever has one request in flight. A panicking handler is recovered and
// answered with an internal-server-error status.
type Server struct {
	adapter    *store.Adapter
	dispatch   Dispatcher
	log        *alog.Logger
	maxConns   int
	tokens     chan struct{} // worker pool: one token per in-flight dispatch

	listenersMu sync.Mutex
	listeners   map[string]net.Listener

	connsMu sync.WaitGroup // outstanding connection handlers
}

// Config controls pool sizing and connection limits.
type Config struct {
	// Workers bounds the number of requests dispatched concurrently across
	// every connection. Values below 1 are treated as 1.
	Workers int
	// MaxConns bounds the number of simultaneously accepted connections per
	// listener, via golang.org/x/net/netutil.LimitListener. 0 means
	// unbounded.
	MaxConns int
}

// New returns a Server that dispatches requests to adapter via dispatch.
func New(adapter *store.Adapter, dispatch Dispatcher, log *alog.Logger, cfg Config) *Server {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Server{
		adapter:   adapter,
		dispatch:  dispatch,
		log:       log,
		maxConns:  cfg.MaxConns,
		tokens:    make(chan struct{}, workers),
		listeners: make(map[string]net.Listener),
	}
}

// ListenTCP starts accepting TCP connections on addr (host:port).
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.addListener(addr, ln)
}

// ListenUnix starts accepting connections on a Unix domain socket at path.
func (s *Server) ListenUnix(path string) error {
	ua, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return err
	}
	ln, err := net.ListenUnix("unix", ua)
	if err != nil {
		return err
	}
	return s.addListener(path, ln)
}

func (s *Server) addListener(key string, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.listenersMu.Lock()
	s.listeners[key] = ln
	s.listenersMu.Unlock()

	s.log.Infof("listening on %v", key)
	go s.serve(key, ln)
	return nil
}

func (s *Server) serve(key string, ln net.Listener) {
	defer func() {
		s.listenersMu.Lock()
		delete(s.listeners, key)
		s.listenersMu.Unlock()
		s.log.Infof("closed listener: %v", key)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				s.log.Errorf("accept on %v: %v", key, err)
			}
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		s.connsMu.Add(1)
		go func() {
			defer s.connsMu.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn serves one connection until the client disconnects or sends
// a frame this server cannot parse. Requests on a single connection are
// handled one at a time, in order; the next frame is not read until the
// previous response has been written.
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr()
	id := uuid.NewString()
	s.log.Debugf("connection %s accepted: %v", id, remote)
	defer conn.Close()

	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				s.log.Debugf("connection %s: %v", id, err)
			}
			return
		}

		req, err := wire.DecodeRequest(body)
		if err != nil {
			s.log.Debugf("connection %s: malformed request: %v", id, err)
			return
		}

		resp := s.runDispatch(req)

		if err := wire.WriteFrame(conn, wire.EncodeResponse(resp)); err != nil {
			s.log.Debugf("connection %s: %v", id, err)
			return
		}
	}
}

// runDispatch submits req to the worker pool and waits for the result. A
// panic inside the dispatcher is recovered here and reported as an
// internal-server-error response rather than taking down the connection
// or the process; any lock the dispatcher had acquired was already
// released by the Holder.Release deferred inside internal/store, so the
// panic never leaks a held lock.
func (s *Server) runDispatch(req wire.Request) (resp wire.Response) {
	s.tokens <- struct{}{}
	defer func() { <-s.tokens }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("panic dispatching %v: %v", req.Cmd, r)
				resp = wire.Response{Status: 500, Data: wire.Nil()}
			}
		}()
		resp = s.dispatch(req, s.adapter)
	}()
	<-done
	return resp
}

// Shutdown closes every listener and waits up to grace for in-flight
// connections to finish on their own before returning. It does not forcibly
// close connections still in flight after grace elapses; it simply stops
// waiting for them, mirroring the teacher's own best-effort drain.
func (s *Server) Shutdown(grace time.Duration) {
	s.listenersMu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listenersMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.connsMu.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warnf("shutdown grace period elapsed with connections still active")
	}
}
