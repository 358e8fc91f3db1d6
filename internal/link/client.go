package link

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/pipeline"
)

var ErrNotConnected = errors.New("link: not connected")

// Client mantiene un enlace TCP NDJSON hacia el proxy de socket y se
// reconecta solo. Todos los envíos son best-effort.
type Client struct {
	addr         string
	lg           *zap.Logger
	retry        time.Duration
	writeTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func New(addr string, lg *zap.Logger) *Client {
	return &Client{
		addr:         addr,
		lg:           lg.With(zap.String("component", "link")),
		retry:        2 * time.Second,
		writeTimeout: 5 * time.Second,
	}
}

// -------------------------------------------------------------------
//                        LOOP DE CONEXIÓN
// -------------------------------------------------------------------

// Run dials the proxy and keeps reconnecting until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	d := net.Dialer{Timeout: 5 * time.Second}
	for {
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.lg.Error("dial failed", zap.String("addr", c.addr), zap.Error(err))
			if !sleep(ctx, c.retry) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.lg.Info("connected", zap.String("remote", conn.RemoteAddr().String()))

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		c.readLoop(conn)
		stop()
		c.clearConn(conn)

		if ctx.Err() != nil {
			return
		}
		c.lg.Warn("connection closed, reconnecting")
		if !sleep(ctx, c.retry) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) getConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) Connected() bool { return c.getConn() != nil }

// Por ahora sólo logueamos lo que llega del proxy.
func (c *Client) readLoop(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		c.lg.Info("incoming line", zap.ByteString("line", sc.Bytes()))
	}
	if err := sc.Err(); err != nil {
		c.lg.Warn("read error", zap.Error(err))
	}
}

// -------------------------------------------------------------------
//                          ENVÍO NDJSON
// -------------------------------------------------------------------

func (c *Client) sendNDJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "link: marshal")
	}
	// se escribe fuera del lock
	conn := c.getConn()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err = conn.Write(append(b, '\n')); err != nil {
		return errors.Wrap(err, "link: write")
	}
	return nil
}

type deviceConnectPayload struct {
	DeviceConnect bool   `json:"device_connect"`
	IMEI          string `json:"imei"`
	DeviceID      string `json:"device_id,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	RemoteIP      string `json:"remote_ip,omitempty"`
	RemotePort    int    `json:"remote_port,omitempty"`
}

type deviceUpdatePayload struct {
	DeviceUpdate bool   `json:"device_update"`
	IMEI         string `json:"imei"`
	DeviceID     string `json:"device_id,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
}

// SendDeviceConnect se llama con el primer IMEI visto en una sesión.
func (c *Client) SendDeviceConnect(info DeviceInfo) error {
	return c.sendNDJSON(deviceConnectPayload{
		DeviceConnect: true,
		IMEI:          info.IMEI,
		DeviceID:      info.DeviceID,
		Protocol:      info.Protocol,
		RemoteIP:      info.RemoteIP,
		RemotePort:    info.RemotePort,
	})
}

// SendDeviceUpdate se llama cuando el dispositivo cambia de device id o
// de protocolo dentro de la misma sesión.
func (c *Client) SendDeviceUpdate(info DeviceInfo) error {
	return c.sendNDJSON(deviceUpdatePayload{
		DeviceUpdate: true,
		IMEI:         info.IMEI,
		DeviceID:     info.DeviceID,
		Protocol:     info.Protocol,
	})
}

// Notify routes a device event to the matching payload.
func (c *Client) Notify(info DeviceInfo) {
	var err error
	switch info.State {
	case DeviceStateConnect:
		err = c.SendDeviceConnect(info)
	case DeviceStateUpdate:
		err = c.SendDeviceUpdate(info)
	default:
		return
	}
	if err != nil {
		c.lg.Warn("device event not sent", zap.String("imei", info.IMEI), zap.Stringer("state", info.State), zap.Error(err))
	}
}

func (c *Client) Name() string { return "link" }

// Record envía el trackeo como NDJSON (formato TrackingObject).
func (c *Client) Record(_ context.Context, rec *codec.Record) error {
	return c.sendNDJSON(pipeline.BuildTracking(rec))
}
