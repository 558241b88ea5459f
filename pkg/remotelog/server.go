package remotelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"

	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/logging"
	"github.com/iuliatamas/cryptlog/pkg/metrics"
	"github.com/iuliatamas/cryptlog/pkg/tcp"
	"github.com/iuliatamas/cryptlog/pkg/tracing"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr string
	// MaxConcurrentStreams bounds how many Stream connections the server
	// keeps open at once; beyond this, new stream requests get a 503
	// immediately rather than queuing, since a stream holds its
	// connection open indefinitely.
	MaxConcurrentStreams int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	Logger               logging.Logger
	Metrics              *metrics.Metrics
	// AuthSecret, when non-empty, requires every request to carry a
	// "Authorization: Bearer <HS256 JWT signed with AuthSecret>"
	// header. Empty disables authentication (the default, matching a
	// single-tenant deployment behind its own network boundary).
	AuthSecret string
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = 10000
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 0 // streams are long-lived; no write deadline
	}
	if c.Logger == nil {
		c.Logger = logging.New(logging.Config{})
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Get()
	}
	return c
}

// Server exposes an indexedqueue.Store over a single fasthttp endpoint
// accepting tagged JSON requests (append, append_snapshot, stream).
type Server struct {
	store        indexedqueue.Store
	cfg          ServerConfig
	srv          *fasthttp.Server
	backpressure *tcp.BackpressureController
}

// NewServer wraps store for remote access.
func NewServer(store indexedqueue.Store, cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		store:        store,
		cfg:          cfg,
		// Streams are long-lived, so the load counter is never reset on a
		// timer; only Release lowers it.
		backpressure: tcp.NewBackpressureController(cfg.MaxConcurrentStreams, math.MaxInt64),
	}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks serving requests on cfg.Addr.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe(s.cfg.Addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	if s.cfg.AuthSecret != "" {
		if err := s.authenticate(ctx); err != nil {
			s.writeError(ctx, fasthttp.StatusUnauthorized, err)
			return
		}
	}

	var req requestDTO
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("remotelog: decode request: %w", err))
		return
	}

	spanCtx, span := tracing.Tracer().Start(context.Background(), "remotelog."+req.Op)
	defer span.End()

	start := time.Now()
	switch req.Op {
	case "append":
		s.handleAppend(spanCtx, ctx, req)
	case "append_snapshot":
		s.handleAppendSnapshot(spanCtx, ctx, req)
	case "stream":
		s.handleStream(spanCtx, ctx, req)
	default:
		s.writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("remotelog: unknown op %q", req.Op))
		return
	}
	s.cfg.Metrics.RecordRemoteRequest(req.Op, statusLabel(ctx.Response.StatusCode()), time.Since(start))
}

// authenticate validates an "Authorization: Bearer <token>" header
// against s.cfg.AuthSecret using HS256, rejecting alg-confusion attacks
// by pinning the expected signing method.
func (s *Server) authenticate(ctx *fasthttp.RequestCtx) error {
	header := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return fmt.Errorf("remotelog: missing bearer token")
	}
	tokenStr := header[len(prefix):]

	_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("remotelog: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.AuthSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("remotelog: invalid token: %w", err)
	}
	return nil
}

func statusLabel(code int) string {
	if code >= 200 && code < 300 {
		return "ok"
	}
	return "error"
}

func (s *Server) handleAppend(spanCtx context.Context, ctx *fasthttp.RequestCtx, req requestDTO) {
	if req.Entry == nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("remotelog: append missing entry"))
		return
	}
	entry, err := decodeEntry(*req.Entry)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	idx, err := s.store.Append(spanCtx, entry)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(ctx, responseDTO{Idx: int64(idx)})
}

func (s *Server) handleAppendSnapshot(spanCtx context.Context, ctx *fasthttp.RequestCtx, req requestDTO) {
	if req.Snapshot == nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, fmt.Errorf("remotelog: append_snapshot missing snapshot"))
		return
	}
	snap, err := decodeSnapshot(*req.Snapshot)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	idx, err := s.store.AppendSnapshot(spanCtx, snap)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(ctx, responseDTO{Idx: int64(idx)})
}

// handleStream serves an NDJSON (newline-delimited JSON) body: one
// logDataDTO per line, flushed as each item arrives, until the client
// disconnects or the stream is closed server-side.
func (s *Server) handleStream(spanCtx context.Context, ctx *fasthttp.RequestCtx, req requestDTO) {
	if !s.backpressure.TryAcquire() {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, fmt.Errorf("remotelog: too many concurrent streams"))
		return
	}

	streamCtx, cancel := context.WithCancel(spanCtx)
	items, err := s.store.Stream(streamCtx, logentry.LogIndex(req.From))
	if err != nil {
		cancel()
		s.backpressure.Release()
		s.writeError(ctx, fasthttp.StatusInternalServerError, err)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer s.backpressure.Release()

		// A client that's only waiting for new log entries never
		// triggers a write, so a dead connection would otherwise go
		// undetected (and its goroutine leaked) until the next real
		// entry. A periodic heartbeat forces a write so a closed
		// connection surfaces promptly.
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case item, ok := <-items:
				if !ok {
					return
				}
				if !writeLine(w, marshal(encodeLogData(item))) {
					return
				}
			case <-heartbeat.C:
				if !writeLine(w, []byte(`{"kind":"heartbeat"}`)) {
					return
				}
			}
		}
	})
}

func writeLine(w *bufio.Writer, line []byte) bool {
	if _, err := w.Write(line); err != nil {
		return false
	}
	if err := w.WriteByte('\n'); err != nil {
		return false
	}
	return w.Flush() == nil
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	ctx.SetContentType("application/json")
	ctx.SetBody(marshal(v))
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	s.cfg.Logger.Warnf("remotelog: request failed: %v", err)
	ctx.SetStatusCode(status)
	s.writeJSON(ctx, responseDTO{Error: err.Error()})
}
