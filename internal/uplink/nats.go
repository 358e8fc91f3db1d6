// Package uplink publishes decoded records on NATS subjects so downstream
// consumers can follow device traffic without touching the database.
package uplink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/pipeline"
)

const (
	SubjectPrefix = "gps.uplink"
	SubjectAll    = SubjectPrefix + ".all"
)

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type NATSSink struct {
	pub Publisher
	nc  *nats.Conn
}

func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

// Connect dials the broker and keeps reconnecting in the background.
func Connect(url string, lg *zap.Logger) (*NATSSink, error) {
	lg = lg.With(zap.String("component", "nats"))
	nc, err := nats.Connect(url,
		nats.Name("gps-svr"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			lg.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			lg.Info("reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "nats: connect %s", url)
	}
	return &NATSSink{pub: nc, nc: nc}, nil
}

func Subject(protocol string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, strings.ToLower(protocol))
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Record(_ context.Context, rec *codec.Record) error {
	data, err := pipeline.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "nats: marshal tracking")
	}
	if err := s.pub.Publish(Subject(rec.Protocol), data); err != nil {
		return errors.Wrap(err, "nats: publish")
	}
	if err := s.pub.Publish(SubjectAll, data); err != nil {
		return errors.Wrap(err, "nats: publish")
	}
	return nil
}

// Close flushes pending messages when the sink owns the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
