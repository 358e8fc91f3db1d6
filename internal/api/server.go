// Package api serves the HTTP query and upload endpoints next to the device
// listener.
package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vuuvv/errors"
	"go.uber.org/zap"

	"gps-svr/internal/codec"
	"gps-svr/internal/observability"
	"gps-svr/internal/store"
)

const defaultLimit = 100

// Querier es la parte de lectura del store que consume la API.
type Querier interface {
	ListDevices(ctx context.Context) ([]store.Device, error)
	LatestPositions(ctx context.Context) ([]store.Position, error)
	Positions(ctx context.Context, imei string, limit int) ([]store.Position, error)
	Stats(ctx context.Context, since time.Time) (store.Stats, error)
}

// RawLog receives uploaded bodies before decoding, like TCP candidates.
type RawLog interface {
	Append(text string, at time.Time) error
}

// Deliverer persists an uploaded record and reports the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, rec *codec.Record) error
}

type Server struct {
	q      Querier
	rawlog RawLog
	sink   Deliverer
	loc    *time.Location
	lg     *zap.Logger
	now    func() time.Time
	router *gin.Engine
	srv    *http.Server
}

// NewServer builds the router. loc decides where "today" starts for /api/stats.
func NewServer(q Querier, rl RawLog, sink Deliverer, loc *time.Location, lg *zap.Logger) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		q:      q,
		rawlog: rl,
		sink:   sink,
		loc:    loc,
		lg:     lg.With(zap.String("component", "api")),
		now:    time.Now,
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors())

	api := r.Group("/api")
	api.GET("/devices", s.devices)
	api.GET("/latest-positions", s.latestPositions)
	api.GET("/gps-data", s.gpsData)
	api.POST("/upload", s.upload)
	api.GET("/stats", s.stats)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})
	s.router = r
}

func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP on port until Shutdown. After Shutdown it
// returns nil without serving.
func (s *Server) Start(port string) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return errors.Wrapf(err, "api: listen on port %s", port)
	}
	s.lg.Info("HTTP API listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "api: serve")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.lg.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	s.lg.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) devices(c *gin.Context) {
	out, err := s.q.ListDevices(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) latestPositions(c *gin.Context) {
	out, err := s.q.LatestPositions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) gpsData(c *gin.Context) {
	limit := defaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	out, err := s.q.Positions(c.Request.Context(), c.Query("imei"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// upload acepta el mismo texto que llega por TCP y lo persiste antes de
// responder.
func (s *Server) upload(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text := string(body)

	if err := s.rawlog.Append(text, s.now()); err != nil {
		observability.RawLogErrors.Inc()
		s.lg.Error("raw log append failed", zap.Error(err))
	}

	rec := codec.Decode(text)
	resp := gin.H{"success": true, "message": "Data received and saved", "device": nil}
	if rec.Attributable() {
		if err := s.sink.Deliver(c.Request.Context(), rec); err != nil {
			s.fail(c, err)
			return
		}
		resp["device"] = rec.IMEIValue()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) stats(c *gin.Context) {
	now := s.now()
	local := now.In(s.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	st, err := s.q.Stats(c.Request.Context(), today)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalDevices": st.TotalDevices,
		"totalRecords": st.TotalRecords,
		"todayRecords": st.TodayRecords,
		"serverTime":   now.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}
