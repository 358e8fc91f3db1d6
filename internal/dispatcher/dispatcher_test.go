package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
)

type fakeSink struct {
	name  string
	mu    sync.Mutex
	got   []*codec.Record
	err   error
	panic bool
	block chan struct{}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Record(ctx context.Context, rec *codec.Record) error {
	if f.block != nil {
		<-f.block
	}
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, rec)
	return f.err
}

func (f *fakeSink) records() []*codec.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*codec.Record(nil), f.got...)
}

func attributable(imei string) *codec.Record {
	return codec.Decode("J" + imei + " ZLIV:21;")
}

func TestDispatcher_FanOut(t *testing.T) {
	a, b := &fakeSink{name: "a"}, &fakeSink{name: "b"}
	d := New(Options{QueueSize: 8, Workers: 2}, zap.NewNop(), a, b)

	for _, imei := range []string{"1", "2", "3"} {
		assert.True(t, d.Submit(attributable(imei)))
	}
	d.Close()

	assert.Len(t, a.records(), 3)
	assert.Len(t, b.records(), 3)
}

func TestDispatcher_SkipsUnattributable(t *testing.T) {
	a := &fakeSink{name: "a"}
	d := New(Options{}, zap.NewNop(), a)
	assert.False(t, d.Submit(codec.Decode("hello")))
	assert.False(t, d.Submit(nil))
	d.Close()
	assert.Empty(t, a.records())
}

func TestDispatcher_FailingSinkDoesNotStopOthers(t *testing.T) {
	bad := &fakeSink{name: "bad", err: errors.New("db down")}
	panicky := &fakeSink{name: "panicky", panic: true}
	good := &fakeSink{name: "good"}
	d := New(Options{Workers: 1}, zap.NewNop(), bad, panicky, good)

	require.True(t, d.Submit(attributable("7")))
	require.True(t, d.Submit(attributable("8")))
	d.Close()

	assert.Len(t, good.records(), 2)
	assert.Len(t, bad.records(), 2)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	slow := &fakeSink{name: "slow", block: block}
	d := New(Options{QueueSize: 1, Workers: 1}, zap.NewNop(), slow)

	// first record is taken by the worker, which then blocks in the sink
	require.True(t, d.Submit(attributable("1")))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, d.Submit(attributable("2")))

	done := make(chan bool)
	go func() { done <- d.Submit(attributable("3")) }()
	select {
	case ok := <-done:
		assert.False(t, ok, "full queue drops instead of blocking")
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(block)
	d.Close()
	assert.Len(t, slow.records(), 2)
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := New(Options{}, zap.NewNop())
	d.Close()
	d.Close()
	assert.False(t, d.Submit(attributable("1")))
}

func TestDispatcher_Deliver(t *testing.T) {
	bad := &fakeSink{name: "bad", err: errors.New("nope")}
	good := &fakeSink{name: "good"}
	d := New(Options{}, zap.NewNop(), bad, good)
	defer d.Close()

	err := d.Deliver(context.Background(), attributable("9"))
	assert.Error(t, err)
	assert.Len(t, good.records(), 1, "later sinks still run")

	d2 := New(Options{}, zap.NewNop(), good)
	defer d2.Close()
	assert.NoError(t, d2.Deliver(context.Background(), attributable("9")))
}
