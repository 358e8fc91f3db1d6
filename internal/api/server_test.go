package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/dispatcher"
	"gps-svr/internal/store"
)

type memLog struct {
	mu      sync.Mutex
	entries []string
}

func (m *memLog) Append(text string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, text)
	return nil
}

type fixture struct {
	srv   *Server
	store *store.SQLStore
	log   *memLog
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	d := dispatcher.New(dispatcher.Options{}, zap.NewNop(), st)
	t.Cleanup(d.Close)

	lg := &memLog{}
	srv := NewServer(st, lg, d, time.UTC, zap.NewNop())
	srv.now = func() time.Time { return time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC) }
	return &fixture{srv: srv, store: st, log: lg}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T, frames ...string) {
	t.Helper()
	for _, fr := range frames {
		require.NoError(t, f.store.Record(context.Background(), codec.Decode(fr)))
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

const (
	frameA1 = "$STS:4GA6205,J111,X,X,05012024,100000,28.6100,0,77.2300,0,45.5,90,120,8"
	frameA2 = "$STS:4GA6205,J111,X,X,06012024,100000,28.7000,0,77.3000,0,10,90,120,8"
	frameB  = "$STS:4GB0001,J222,X,X,06012024,090000,0.000000,0,0.000000,0,0,0,0,0"
)

func TestCORSAndOptions(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodOptions, "/api/devices", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	w = f.do(t, http.MethodGet, "/api/devices", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	f := setup(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/api/devices"},
		{http.MethodGet, "/api/upload"},
	} {
		w := f.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, "Endpoint not found", decode[map[string]string](t, w)["error"])
	}
}

func TestDevices(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	f.seed(t, frameA1, frameB)
	devs := decode[[]store.Device](t, f.do(t, http.MethodGet, "/api/devices", ""))
	require.Len(t, devs, 2)
	names := map[string]string{}
	for _, d := range devs {
		names[d.IMEI] = d.DeviceName
	}
	assert.Equal(t, map[string]string{"J111": "4GA6205", "J222": "4GB0001"}, names)
}

func TestGPSData(t *testing.T) {
	f := setup(t)
	f.seed(t, frameA1, frameA2, frameB)

	all := decode[[]store.Position](t, f.do(t, http.MethodGet, "/api/gps-data", ""))
	require.Len(t, all, 2, "rows without coordinates are excluded")
	assert.True(t, all[0].Timestamp.After(all[1].Timestamp), "newest first")

	one := decode[[]store.Position](t, f.do(t, http.MethodGet, "/api/gps-data?imei=J111&limit=1", ""))
	require.Len(t, one, 1)
	assert.InDelta(t, 28.7, *one[0].Latitude, 1e-9)

	none := decode[[]store.Position](t, f.do(t, http.MethodGet, "/api/gps-data?imei=J222", ""))
	assert.Empty(t, none)

	w := f.do(t, http.MethodGet, "/api/gps-data?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestPositions(t *testing.T) {
	f := setup(t)
	f.seed(t, frameA1, frameA2, frameB)

	latest := decode[[]store.Position](t, f.do(t, http.MethodGet, "/api/latest-positions", ""))
	require.Len(t, latest, 2)
	byIMEI := map[string]store.Position{}
	for _, p := range latest {
		byIMEI[p.DeviceIMEI] = p
	}
	assert.Equal(t, frameA2, byIMEI["J111"].RawData)
	assert.Equal(t, "4GA6205", byIMEI["J111"].DeviceName)
}

func TestUpload(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/upload", frameA1)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Data received and saved", resp["message"])
	assert.Equal(t, "J111", resp["device"])

	devs, err := f.store.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devs, 1, "upload persists before replying")
	assert.Equal(t, []string{frameA1}, f.log.entries)
}

func TestUpload_Unattributable(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, "/api/upload", "hello")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, true, resp["success"])
	require.Contains(t, resp, "device", "device is always present")
	assert.Nil(t, resp["device"])
	assert.Equal(t, []string{"hello"}, f.log.entries, "raw text is logged even when nothing is stored")
}

type failingDeliverer struct{}

func (failingDeliverer) Deliver(context.Context, *codec.Record) error { return errors.New("db down") }

func TestUpload_PersistenceFailure(t *testing.T) {
	f := setup(t)
	srv := NewServer(f.store, f.log, failingDeliverer{}, time.UTC, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(frameA1))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestStats(t *testing.T) {
	f := setup(t)
	f.seed(t, frameA1, frameA2, frameB)

	resp := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/stats", ""))
	assert.EqualValues(t, 2, resp["totalDevices"])
	assert.EqualValues(t, 3, resp["totalRecords"])
	assert.EqualValues(t, 2, resp["todayRecords"])
	assert.Equal(t, "2024-01-06T12:00:00.000Z", resp["serverTime"])
}

func TestShutdownBeforeStart(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	done := make(chan error, 1)
	go func() { done <- f.srv.Start("0") }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start served after Shutdown")
	}
}

func TestStartThenShutdown(t *testing.T) {
	f := setup(t)
	done := make(chan error, 1)
	go func() { done <- f.srv.Start("0") }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
