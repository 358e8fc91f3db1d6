package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/link"
	"gps-svr/internal/observability"
)

// RawLog recibe cada mensaje candidato antes de decodificarlo.
type RawLog interface {
	Append(text string, at time.Time) error
}

// Submitter takes a decoded record without blocking the read loop.
type Submitter interface {
	Submit(rec *codec.Record) bool
}

// DeviceNotifier is told when a session learns or changes its device identity.
type DeviceNotifier interface {
	Notify(info link.DeviceInfo)
}

const notifyQueueSize = 64

type Options struct {
	Addr           string
	ReadBufferSize int
	IdleTimeout    time.Duration // 0 = la conexión vive hasta que el equipo cierre
}

type Server struct {
	opts     Options
	rawlog   RawLog
	sink     Submitter
	notifier DeviceNotifier
	lg       *zap.Logger
	now      func() time.Time

	events   chan link.DeviceInfo
	quit     chan struct{}
	quitOnce sync.Once

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
	sessions sync.Map // id -> *Session
	wg       sync.WaitGroup
}

func New(opts Options, rl RawLog, sink Submitter, lg *zap.Logger) *Server {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	return &Server{
		opts:   opts,
		rawlog: rl,
		sink:   sink,
		lg:     lg.With(zap.String("component", "tcp")),
		now:    time.Now,
		quit:   make(chan struct{}),
	}
}

// SetNotifier wires an optional device event listener. Call once, before
// Serve. Events reach n from a single goroutine through a bounded queue;
// when n falls behind, new events are dropped and counted.
func (s *Server) SetNotifier(n DeviceNotifier) {
	s.notifier = n
	s.events = make(chan link.DeviceInfo, notifyQueueSize)
	go s.notifyLoop(n, s.events)
}

func (s *Server) notifyLoop(n DeviceNotifier, events <-chan link.DeviceInfo) {
	for {
		select {
		case info := <-events:
			n.Notify(info)
		case <-s.quit:
			return
		}
	}
}

// notify never blocks the calling session.
func (s *Server) notify(info link.DeviceInfo) {
	select {
	case s.events <- info:
	default:
		observability.DeviceEventsDropped.Inc()
		s.lg.Warn("device event queue full, dropping event",
			zap.String("imei", info.IMEI), zap.Stringer("state", info.State))
	}
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "error starting TCP server on %s", s.opts.Addr)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.lg.Info("TCP server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts devices until ctx is cancelled or Shutdown is called.
// Listen must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("tcp server: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.closeListener() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			s.lg.Error("accept error", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if s.isClosed() {
			_ = conn.Close()
			return nil
		}
		s.handle(conn)
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handle(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	// closed, Store y wg.Add bajo el mismo lock que Shutdown
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	sess := newSession(s, conn)
	s.sessions.Store(sess.ID, sess)
	s.wg.Add(1)
	s.mu.Unlock()

	observability.TCPConnections.Inc()
	observability.ActiveSessions.Inc()
	sess.lg.Info("device connected")

	go func() {
		defer s.wg.Done()
		defer observability.ActiveSessions.Dec()
		defer s.sessions.Delete(sess.ID)
		sess.serve()
	}()
}

// Sessions returns the number of open device connections.
func (s *Server) Sessions() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) closeListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Shutdown stops accepting, closes every open session and waits for their
// goroutines or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.closeListener()
	s.quitOnce.Do(func() { close(s.quit) })
	s.sessions.Range(func(_, v any) bool {
		_ = v.(*Session).conn.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.lg.Info("TCP server stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "tcp server shutdown")
	}
}
