package server

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/framing"
	"gps-svr/internal/link"
	"gps-svr/internal/observability"
)

// AckOK es la confirmación que esperan los equipos STS y DP.
var AckOK = []byte("OK\r\n")

type State int32

const (
	StateConnected State = iota
	StateAwaitingMessage
	StateProcessing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingMessage:
		return "awaiting_message"
	case StateProcessing:
		return "processing"
	default:
		return "disconnected"
	}
}

// Session owns one device connection from accept to close.
type Session struct {
	ID string

	srv   *Server
	conn  net.Conn
	lg    *zap.Logger
	state atomic.Int32

	// identidad aprendida de los mensajes; sólo la toca la goroutine de la sesión
	imei     string
	deviceID string
	protocol string
}

func newSession(srv *Server, conn net.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		ID:   id,
		srv:  srv,
		conn: conn,
		lg: srv.lg.With(
			zap.String("session", id),
			zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// IMEI returns the first IMEI seen on this connection.
func (s *Session) IMEI() string { return s.imei }

func (s *Session) serve() {
	defer func() {
		if r := recover(); r != nil {
			s.lg.Error("session panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		s.setState(StateDisconnected)
		_ = s.conn.Close()
		s.lg.Info("device disconnected")
	}()

	s.setState(StateAwaitingMessage)
	buf := make([]byte, s.srv.opts.ReadBufferSize)
	for {
		if s.srv.opts.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.opts.IdleTimeout))
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			if reply := s.process(buf[:n]); reply != nil {
				if _, werr := s.conn.Write(reply); werr != nil {
					s.lg.Warn("write failed", zap.Error(werr))
					return
				}
			}
		}
		if err != nil {
			s.logReadError(err)
			return
		}
	}
}

func (s *Session) logReadError(err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		return
	case errors.Is(err, net.ErrClosed):
		return
	case errors.As(err, &ne) && ne.Timeout():
		s.lg.Info("idle timeout", zap.Duration("after", s.srv.opts.IdleTimeout))
	default:
		s.lg.Warn("read error", zap.Error(err))
	}
}

// process handles one read event and returns what must be written back.
func (s *Session) process(data []byte) []byte {
	s.setState(StateProcessing)
	defer s.setState(StateAwaitingMessage)

	fr := framing.Split(data)
	switch fr.Kind {
	case framing.KindHeartbeat:
		observability.Heartbeats.Inc()
		return fr.Reply()
	case framing.KindDebugOn, framing.KindCaptureStarted:
		observability.ControlTokens.WithLabelValues(fr.Kind.String()).Inc()
		s.lg.Info("control token", zap.Stringer("kind", fr.Kind))
		return nil
	}

	s.lg.Info("message received", zap.String("data", fr.Text))
	if err := s.srv.rawlog.Append(fr.Text, s.srv.now()); err != nil {
		observability.RawLogErrors.Inc()
		s.lg.Error("raw log append failed", zap.Error(err))
	}

	start := time.Now()
	rec := codec.Decode(fr.Text)
	observability.ObserveDecodeLatency(start)
	observability.MessagesRecv.WithLabelValues(protocolLabel(rec.Protocol)).Inc()

	if rec.Attributable() {
		s.track(rec)
		s.srv.sink.Submit(rec)
	}

	if rec.AcksOK() {
		observability.AcksSent.Inc()
		return AckOK
	}
	return nil
}

// Los tags provisionales del sobre JSON son texto libre del equipo; no se
// usan como etiqueta de métrica.
func protocolLabel(p string) string {
	switch p {
	case codec.ProtocolSTS, codec.ProtocolDP, codec.ProtocolTM, codec.ProtocolZLIV:
		return p
	}
	return codec.ProtocolUnknown
}

// track learns the device identity and announces it upstream.
func (s *Session) track(rec *codec.Record) {
	deviceID := ""
	if rec.DeviceID != nil {
		deviceID = *rec.DeviceID
	}

	state := link.DeviceStateUnknown
	switch {
	case s.imei == "":
		s.imei = rec.IMEIValue()
		s.lg = s.lg.With(zap.String("imei", s.imei))
		s.lg.Info("device identified", zap.String("protocol", rec.Protocol))
		state = link.DeviceStateConnect
	case deviceID != "" && deviceID != s.deviceID, rec.Protocol != s.protocol:
		state = link.DeviceStateUpdate
	}
	if deviceID != "" {
		s.deviceID = deviceID
	}
	s.protocol = rec.Protocol

	if s.srv.notifier == nil || state == link.DeviceStateUnknown {
		return
	}
	info := link.DeviceInfo{
		IMEI:     s.imei,
		DeviceID: s.deviceID,
		Protocol: s.protocol,
		State:    state,
	}
	if host, port, err := net.SplitHostPort(s.conn.RemoteAddr().String()); err == nil {
		info.RemoteIP = host
		info.RemotePort, _ = strconv.Atoi(port)
	}
	s.srv.notify(info)
}
