package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
	"github.com/WilliamAGH/java-chat-sub001/internal/ratelimit"
	"github.com/WilliamAGH/java-chat-sub001/internal/telemetry"
)

const (
	// streamBufferSize bounds the output channel. A consumer that falls this
	// far behind before reading the first token triggers failover instead of
	// blocking the worker.
	streamBufferSize = 64

	// maxConcurrentStreams bounds the worker pool so a burst of chat
	// requests cannot exhaust provider connections.
	maxConcurrentStreams = 8
)

var (
	// ErrAllProvidersUnavailable means every provider is unconfigured,
	// inside a backoff window, or rate-limited.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrStreamOverflow means the output channel was already full when the
	// first delta arrived, so the consumer never saw a token from this
	// provider and failover is still safe.
	ErrStreamOverflow = errors.New("stream buffer overflow before first token")

	errIdleRead = errors.New("stream idle read timeout")
)

// ChunkKind tags the variants of StreamChunk.
type ChunkKind int

const (
	KindText ChunkKind = iota
	KindNotice
	KindEnd
	KindError
)

// StreamChunk is one event on the streaming output channel: a text delta, a
// provider-switch notice, a clean end, or a terminal error.
type StreamChunk struct {
	Kind   ChunkKind
	Text   string
	Notice *Notice
	Err    error
}

// NoticeOrigin locates where in the attempt sequence a notice was raised.
type NoticeOrigin struct {
	Provider    string `json:"provider"`
	Stage       string `json:"stage"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
}

// Notice describes a recoverable streaming event, currently only
// pre-first-token provider failover.
type Notice struct {
	Code              string       `json:"code"`
	Summary           string       `json:"summary"`
	DiagnosticContext string       `json:"diagnosticContext"`
	Retryable         bool         `json:"retryable"`
	Origin            NoticeOrigin `json:"origin"`
}

// Engine streams chat completions with provider failover. Attempts run on a
// bounded worker pool, never on the caller's goroutine.
type Engine struct {
	router  *Router
	factory *Factory
	limits  *ratelimit.Store
	cfg     config.LLMConfig
	pool    *semaphore.Weighted
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewEngine(router *Router, factory *Factory, limits *ratelimit.Store, cfg config.LLMConfig, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		router:  router,
		factory: factory,
		limits:  limits,
		cfg:     cfg,
		pool:    semaphore.NewWeighted(maxConcurrentStreams),
		metrics: metrics,
		now:     time.Now,
	}
}

// Stream answers prompt on a bounded channel of StreamChunk. The channel is
// closed after the End or Error chunk. Failures before the first text delta
// fail over to the next available provider; afterwards they are terminal.
func (e *Engine) Stream(ctx context.Context, prompt string, temperature float64) (<-chan StreamChunk, error) {
	providers := e.router.SelectAvailable()
	if len(providers) == 0 {
		return nil, ErrAllProvidersUnavailable
	}
	if err := e.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring stream worker: %w", err)
	}

	out := make(chan StreamChunk, streamBufferSize)
	go func() {
		defer e.pool.Release(1)
		defer close(out)

		ctx, cancel := context.WithTimeout(ctx, e.cfg.StreamingRequestTimeout())
		defer cancel()

		e.run(ctx, providers, prompt, temperature, out)
	}()
	return out, nil
}

func (e *Engine) run(ctx context.Context, providers []Provider, prompt string, temperature float64, out chan<- StreamChunk) {
	for i, p := range providers {
		req := e.factory.Build(p, prompt, temperature)

		var delivered bool
		stream, err := e.router.Client(p).StreamCompletion(ctx, req)
		if err == nil {
			delivered, err = e.consume(ctx, p, stream, out)
		}
		if err == nil {
			e.recordSuccess(p)
			send(ctx, out, StreamChunk{Kind: KindEnd})
			return
		}

		e.recordFailure(p, err)

		if next := i + 1; !delivered && next < len(providers) && IsStreamingFallback(err) {
			notice := failoverNotice(p, providers[next], err, i+1, len(providers))
			logger.Warn("stream provider failover",
				"from", string(p),
				"to", string(providers[next]),
				"attempt", i+1,
				"error", err)
			if e.metrics != nil {
				e.metrics.RecordStreamFailover(string(p), string(providers[next]))
			}
			if !send(ctx, out, StreamChunk{Kind: KindNotice, Notice: &notice}) {
				return
			}
			continue
		}

		logger.Error("stream failed", "provider", string(p), "delivered", delivered, "error", err)
		send(ctx, out, StreamChunk{Kind: KindError, Err: err})
		return
	}
}

// consume forwards deltas until the stream ends. It reports whether at least
// one text chunk reached the output channel; a read stalled longer than the
// idle timeout closes the stream.
func (e *Engine) consume(ctx context.Context, p Provider, stream TextStream, out chan<- StreamChunk) (bool, error) {
	defer stream.Close()

	idle := e.cfg.StreamingReadTimeout()
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		timedOut.Store(true)
		stream.Close()
	})
	defer watchdog.Stop()

	delivered := false
	for {
		delta, err := stream.Next()
		if err != nil {
			if timedOut.Load() {
				return delivered, errIdleRead
			}
			if errors.Is(err, io.EOF) {
				return delivered, nil
			}
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, err
		}
		watchdog.Reset(idle)

		chunk := StreamChunk{Kind: KindText, Text: delta}
		if !delivered {
			select {
			case out <- chunk:
			default:
				return false, ErrStreamOverflow
			}
		} else {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
		delivered = true
		if e.metrics != nil {
			e.metrics.RecordStreamChunk(string(p))
		}
	}
}

func (e *Engine) recordSuccess(p Provider) {
	if e.limits == nil {
		return
	}
	if err := e.limits.RecordSuccess(string(p)); err != nil {
		logger.Warn("recording provider success", "provider", string(p), "error", err)
	}
}

// recordFailure updates the local primary backoff and the persistent
// rate-limit state. A 429 only sets an explicit reset when the response
// carries authoritative headers; otherwise it counts as a plain failure.
func (e *Engine) recordFailure(p Provider, err error) {
	if p == e.router.Primary() && IsBackoffPrimary(err) {
		e.router.BackoffPrimary()
	}
	if e.limits == nil {
		return
	}

	if statusCode(err) == http.StatusTooManyRequests {
		if resp := errResponse(err); resp != nil {
			if reset, rerr := ratelimit.ResolveResetTime(resp.Header, e.now()); rerr == nil {
				if lerr := e.limits.RecordRateLimit(string(p), &reset, ""); lerr != nil {
					logger.Warn("recording provider rate limit", "provider", string(p), "error", lerr)
				}
				return
			}
		}
	}
	if lerr := e.limits.RecordFailure(string(p)); lerr != nil {
		logger.Warn("recording provider failure", "provider", string(p), "error", lerr)
	}
}

func failoverNotice(from, to Provider, err error, attempt, maxAttempts int) Notice {
	return Notice{
		Code:              "provider_failover",
		Summary:           fmt.Sprintf("provider %s failed before the first token; retrying with %s", from, to),
		DiagnosticContext: err.Error(),
		Retryable:         true,
		Origin: NoticeOrigin{
			Provider:    string(from),
			Stage:       "stream",
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
		},
	}
}

// send delivers c unless ctx is already done, which means the caller gave up
// and nobody is draining the channel.
func send(ctx context.Context, out chan<- StreamChunk, c StreamChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
