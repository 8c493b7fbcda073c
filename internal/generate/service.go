package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"scriptoria/internal/model"
)

const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 800
	DefaultCacheSize   = 256
)

type Request struct {
	Idea        string
	Mode        model.Mode
	Temperature float64
	MaxTokens   int
}

// withDefaults fills an empty Mode. Temperature and MaxTokens are passed through as given, zero
// and negative values included; callers that want the defaults pass DefaultTemperature and
// DefaultMaxTokens explicitly.
func (r Request) withDefaults() Request {
	if r.Mode == "" {
		r.Mode = model.DefaultMode
	}
	return r
}

type cacheKey struct {
	idea        string
	mode        model.Mode
	temperature float64
	maxTokens   int
}

// Source says where a generated text came from.
type Source string

const (
	SourceBackend  Source = "backend"
	SourceFallback Source = "fallback"
	SourceCache    Source = "cache"
)

type ServiceConfig struct {
	// Completer is optional; nil always selects the fallback.
	Completer Completer

	// CacheSize bounds the memoization cache. Zero uses DefaultCacheSize; negative disables it.
	CacheSize int

	Logger *slog.Logger
}

// Service turns ideas into text. Results are memoized per exact (idea, mode, temperature,
// max_tokens) tuple in a bounded LRU.
type Service struct {
	completer Completer
	cache     *lru.Cache[cacheKey, string]
	log       *slog.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	size := cfg.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	var cache *lru.Cache[cacheKey, string]
	if size > 0 {
		c, err := lru.New[cacheKey, string](size)
		if err != nil {
			return nil, err
		}
		cache = c
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{completer: cfg.Completer, cache: cache, log: logger}, nil
}

// Generate never fails: backend errors degrade to the deterministic fallback.
func (s *Service) Generate(ctx context.Context, req Request) string {
	text, _ := s.GenerateWithSource(ctx, req)
	return text
}

func (s *Service) GenerateWithSource(ctx context.Context, req Request) (string, Source) {
	req = req.withDefaults()
	key := cacheKey{idea: req.Idea, mode: req.Mode, temperature: req.Temperature, maxTokens: req.MaxTokens}
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v, SourceCache
		}
	}

	text, src := s.generate(ctx, req)
	if s.cache != nil {
		s.cache.Add(key, text)
	}
	return text, src
}

func (s *Service) generate(ctx context.Context, req Request) (string, Source) {
	prompt := BuildPrompt(req.Idea, req.Mode)
	text, err := s.callExternal(ctx, prompt, req)
	if err == nil {
		return text, SourceBackend
	}
	if !errors.Is(err, ErrUnavailable) {
		s.log.Warn("completion backend failed; using fallback", "mode", string(req.Mode), "err", err)
	}
	return Fallback(req.Idea, req.Mode), SourceFallback
}

func (s *Service) callExternal(ctx context.Context, prompt string, req Request) (string, error) {
	if s.completer == nil {
		return "", ErrUnavailable
	}
	return s.completer.Complete(ctx, prompt, req.Temperature, req.MaxTokens)
}

// CacheLen reports how many results are memoized.
func (s *Service) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}
