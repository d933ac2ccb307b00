// Package server 是推荐服务的 HTTP 层。
//
// 路由：
//   - POST /v1/recommend  推荐
//   - POST /v1/events     用户反馈事件
//   - GET  /healthz       健康检查
//   - GET  /metrics       Prometheus 指标
//
// 状态码：200 成功；400 请求非法；429 限流（带 Retry-After）；504 超时；500 其它。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/feedback"
	"github.com/rushteam/nearrec/metrics"
	"github.com/rushteam/nearrec/service"
)

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 1 << 20

// Recommender 是 service.Recommender 的抽象，便于测试替换。
type Recommender interface {
	Recommend(ctx context.Context, req service.Request) (*service.Response, error)
}

// EventRecorder 记录反馈事件并返回奖励值。
type EventRecorder interface {
	Record(ctx context.Context, ev feedback.Event) (float64, error)
}

// HealthCheck 返回 nil 表示依赖可用。
type HealthCheck func(ctx context.Context) error

// Options 是 Server 的可选依赖。
type Options struct {
	Events              EventRecorder
	Health              HealthCheck
	IPRequestsPerMinute int
}

// Server 持有路由和依赖。
type Server struct {
	rec    Recommender
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	router chi.Router
}

func New(rec Recommender, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		rec:    rec,
		opts:   opts,
		logger: logger.With().Str("component", "http").Logger(),
		now:    time.Now,
	}
	s.router = s.routes()
	return s
}

// WithClock 替换时钟，计算 Retry-After 时使用。
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if n := s.opts.IPRequestsPerMinute; n > 0 {
			r.Use(httprate.Limit(n, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return ClientIP(r), nil }),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests")
				}),
			))
		}
		r.Post("/recommend", s.handleRecommend)
		r.Post("/events", s.handleEvent)
	})
	return r
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ClientIP = ClientIP(r)

	resp, err := s.rec.Recommend(r.Context(), req)
	if err != nil {
		s.writeRecommendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// rateLimitBody 的 retry_after 是窗口重置时刻（RFC 3339），秒数放在 Retry-After 头里。
type rateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter string `json:"retry_after"`
	Remaining  int    `json:"remaining"`
}

func (s *Server) writeRecommendError(w http.ResponseWriter, err error) {
	var rl *core.RateLimitError
	switch {
	case errors.As(err, &rl):
		secs := int(rl.RetryAfter(s.now()).Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
			Error:      "Rate limit exceeded",
			RetryAfter: rl.ResetAt.UTC().Format(time.RFC3339),
			Remaining:  rl.Remaining,
		})
	case core.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, core.GetDomainError(err).Message)
	case core.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type eventResponse struct {
	Reward float64 `json:"reward"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		writeError(w, http.StatusNotFound, "events not enabled")
		return
	}
	var ev feedback.Event
	if err := decode(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reward, err := s.opts.Events.Record(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, eventResponse{Reward: reward})
	case core.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, core.GetDomainError(err).Message)
	default:
		s.logger.Error().Err(err).Str("user_id", ev.UserID).Msg("record event failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger 记录每个请求的状态码和耗时，并写入 HTTP 指标。
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(r.Method, route, status, elapsed)

		e := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			e = s.logger.Warn()
		}
		e.Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("http request")
	})
}

// ClientIP 依次取 X-Forwarded-For 的第一个地址、X-Real-IP、RemoteAddr。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func decode(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dest)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
