// ABOUTME: Processor runs business requests under a semaphore with dedupe.
// ABOUTME: Strategies are per request kind; repeated identical work hits the cache.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/metrics"
	"github.com/parley-protocol/parley/internal/protocol"
)

const (
	defaultMaxConcurrent = 8
	defaultDedupeTTL     = 30 * time.Second
	defaultDedupeSize    = 1024
)

// Handler executes one business request and returns its result payload.
type Handler func(ctx context.Context, req *protocol.Request) (map[string]any, error)

// EchoHandler is the default strategy: it reflects the request payload back
// with the operation noted. Deployments replace it per kind via SetHandler.
func EchoHandler(ctx context.Context, req *protocol.Request) (map[string]any, error) {
	return map[string]any{
		"operation": string(req.Type),
		"echo":      req.Payload,
	}, nil
}

// Config tunes the pipeline.
type Config struct {
	// MaxConcurrent bounds simultaneously executing requests. Requests
	// past the bound wait for a slot; waiting is cut short by ctx.
	MaxConcurrent int
	// DedupeTTL is how long completed results are served from cache.
	DedupeTTL time.Duration
	// DedupeSize caps the in-memory result cache.
	DedupeSize int
}

// Processor coordinates request execution. Safe for concurrent use.
type Processor struct {
	cfg    Config
	logger *slog.Logger
	sem    chan struct{}
	cache  ResultCache

	mu       sync.RWMutex
	handlers map[protocol.MessageType]Handler
}

// New builds a processor. A nil cache gets an in-memory one sized from cfg;
// every business request kind starts with the echo strategy installed.
func New(cfg Config, cache ResultCache, logger *slog.Logger) *Processor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = defaultDedupeSize
	}
	if cache == nil {
		cache = NewMemoryCache(cfg.DedupeTTL, cfg.DedupeSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		cfg:      cfg,
		logger:   logger.With("component", "pipeline"),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		cache:    cache,
		handlers: make(map[protocol.MessageType]Handler),
	}
	for _, t := range []protocol.MessageType{
		protocol.TypeRequestContext,
		protocol.TypeRequestRefactor,
		protocol.TypeRequestAnalyze,
		protocol.TypeRequestValidate,
	} {
		p.handlers[t] = EchoHandler
	}
	return p
}

// SetHandler installs the strategy for a request kind, replacing the
// previous one.
func (p *Processor) SetHandler(t protocol.MessageType, h Handler) error {
	if !t.IsRequest() {
		return fmt.Errorf("set handler: %q is not a request kind", t)
	}
	if h == nil {
		return fmt.Errorf("set handler for %s: nil handler", t)
	}
	p.mu.Lock()
	p.handlers[t] = h
	p.mu.Unlock()
	p.logger.Debug("strategy installed", "type", t)
	return nil
}

// Process executes req through its strategy, serving repeats from the dedupe
// cache. Implements the router's Dispatcher contract.
func (p *Processor) Process(ctx context.Context, req *protocol.Request) (map[string]any, error) {
	p.mu.RLock()
	handler, ok := p.handlers[req.Type]
	p.mu.RUnlock()
	if !ok {
		return nil, protocol.NewErrorDetail(protocol.CodeNoHandler,
			fmt.Sprintf("no strategy installed for %q", req.Type))
	}

	key, err := Fingerprint(req)
	if err != nil {
		p.logger.Warn("could not fingerprint request", "message_id", req.ID, "error", err)
		key = ""
	} else if result, hit := p.cache.Get(ctx, key); hit {
		metrics.PipelineDeduped.Inc()
		p.logger.Debug("request served from dedupe cache",
			"message_id", req.ID,
			"type", req.Type)
		return result, nil
	}

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	result, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	// Work that outlived its deadline is discarded, not cached: the
	// requester was already told it timed out.
	if key != "" && ctx.Err() == nil {
		p.cache.Put(ctx, key, result)
	}
	return result, nil
}

// acquire takes a semaphore slot, waiting when the pipeline is saturated.
func (p *Processor) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
	default:
		metrics.PipelineBusy.Inc()
		p.logger.Debug("pipeline saturated, request waiting", "max_concurrent", p.cfg.MaxConcurrent)
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	metrics.PipelineInFlight.Inc()
	return nil
}

func (p *Processor) release() {
	metrics.PipelineInFlight.Dec()
	<-p.sem
}

// Close releases the result cache.
func (p *Processor) Close() error {
	return p.cache.Close()
}
