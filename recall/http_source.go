package recall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/metrics"
)

// HTTPSource 通过 HTTP 调用外部候选服务（fetch-candidates），带熔断保护。
//
// 请求（POST Endpoint）：
//
//	{"user_id": "u1", "lat": 31.2, "lon": 121.4, "radius_km": 15, "limit": 300}
//
// 响应：
//
//	{"candidates": [{"id": "c1", "distance_km": 1.2, ...}]}
//
// 熔断器配置：
//   - 半开状态最多放行 3 个请求
//   - 1 分钟统计窗口
//   - 打开 30 秒后尝试恢复
//   - 至少 10 个请求且失败率 >= 60% 时打开
type HTTPSource struct {
	Endpoint string
	Client   *http.Client

	name   string
	cb     *gobreaker.CircuitBreaker[[]core.Candidate]
	logger zerolog.Logger
}

// HTTPSourceConfig 是 HTTPSource 的配置。
type HTTPSourceConfig struct {
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
}

func NewHTTPSource(cfg HTTPSourceConfig, logger zerolog.Logger) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	s := &HTTPSource{
		Endpoint: cfg.Endpoint,
		Client:   &http.Client{Timeout: timeout},
		name:     "candidate-service",
		logger:   logger.With().Str("component", "recall.http").Logger(),
	}

	metrics.CircuitBreakerState.WithLabelValues(s.name).Set(0)
	s.cb = gobreaker.NewCircuitBreaker[[]core.Candidate](gobreaker.Settings{
		Name:        s.name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("candidate service circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return s
}

func (s *HTTPSource) Name() string { return "recall.http" }

var _ core.CandidateSource = (*HTTPSource)(nil)

type fetchRequest struct {
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	RadiusKm  float64 `json:"radius_km"`
	Limit     int     `json:"limit"`
}

type fetchResponse struct {
	Candidates []core.Candidate `json:"candidates"`
}

func (s *HTTPSource) FetchCandidates(ctx context.Context, q core.CandidateQuery) ([]core.Candidate, error) {
	if s.Endpoint == "" {
		return nil, core.NewDomainError(core.ModuleRecall, core.ErrorCodeInvalidInput, "candidate service endpoint is required")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultFetchLimit
	}

	cands, err := s.cb.Execute(func() ([]core.Candidate, error) {
		return s.call(ctx, q)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(s.name, "rejected").Inc()
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(s.name, "failure").Inc()
		}
		return nil, wrapFetchError(s.Name(), err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues(s.name, "success").Inc()

	if len(cands) > q.Limit {
		cands = cands[:q.Limit]
	}
	return cands, nil
}

func (s *HTTPSource) call(ctx context.Context, q core.CandidateQuery) ([]core.Candidate, error) {
	body, err := json.Marshal(fetchRequest{
		UserID:    q.UserID,
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
		RadiusKm:  q.RadiusKm,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candidate service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("candidate service error: status=%d, body=%s", resp.StatusCode, string(b))
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Candidates, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
