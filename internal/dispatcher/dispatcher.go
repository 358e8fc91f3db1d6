package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/observability"
	"gps-svr/internal/store"
)

/* =======================================================================
                       NON-BLOCKING PERSISTENCE
======================================================================= */

// Dispatcher desacopla la lectura de cada sesión de la persistencia: Submit
// nunca bloquea, los workers entregan cada registro a todos los sinks. Los
// fallos sólo se ven en logs y métricas; jamás vuelven al dispositivo.
type Dispatcher struct {
	sinks   []store.Sink
	queue   chan *codec.Record
	timeout time.Duration
	lg      *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type Options struct {
	QueueSize   int
	Workers     int
	SinkTimeout time.Duration
}

func New(opts Options, lg *zap.Logger, sinks ...store.Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan *codec.Record, opts.QueueSize),
		timeout: opts.SinkTimeout,
		lg:      lg.With(zap.String("component", "dispatcher")),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit encola el registro y vuelve de inmediato. Devuelve false si el
// registro no es atribuible, la cola está llena o el dispatcher ya cerró.
func (d *Dispatcher) Submit(rec *codec.Record) bool {
	if !rec.Attributable() {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- rec:
		return true
	default:
		observability.QueueDropped.Inc()
		d.lg.Warn("queue full, record dropped", zap.String("imei", rec.IMEIValue()), zap.String("protocol", rec.Protocol))
		return false
	}
}

// Deliver hands the record to every sink synchronously and returns the
// first error. Used by the HTTP upload path, which awaits persistence.
func (d *Dispatcher) Deliver(ctx context.Context, rec *codec.Record) error {
	var first error
	for _, s := range d.sinks {
		if err := d.deliverOne(ctx, s, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close stops accepting records and waits until the queue is drained.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for rec := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			_ = d.deliverOne(ctx, s, rec)
			cancel()
		}
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, s store.Sink, rec *codec.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sink %s panicked: %v", s.Name(), r)
		}
		if err != nil {
			observability.SinkErrors.WithLabelValues(s.Name()).Inc()
			d.lg.Error("record not persisted",
				zap.String("sink", s.Name()),
				zap.String("imei", rec.IMEIValue()),
				zap.Error(err))
		}
	}()
	return s.Record(ctx, rec)
}
