// Package llm wraps chat-completion providers and implements the text
// correction, metadata extraction and match validation calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
)

// ErrNoCompletion is returned when a provider answers without any text.
var ErrNoCompletion = errors.New("no completion returned")

// Prompt is a single-turn completion request.
type Prompt struct {
	Text        string
	MaxTokens   int
	Temperature float32
}

// Completer turns a prompt into a completion.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Config configures the provider and its call budget.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// DefaultConfig targets Groq's OpenAI-compatible endpoint.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderOpenAI,
		BaseURL:    DefaultBaseURL,
		Model:      DefaultModel,
		Timeout:    8 * time.Second,
		RatePerSec: 5,
		Burst:      5,
	}
}

// New creates the configured provider wrapped in a rate limiter and a
// per-call timeout.
func New(ctx context.Context, cfg Config) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}
	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI, "":
		c = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderGemini:
		c, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Throttle(c, cfg.RatePerSec, cfg.Burst, cfg.Timeout), nil
}

type throttled struct {
	next    Completer
	limiter *rate.Limiter
	timeout time.Duration
}

// Throttle bounds next by a shared token bucket and a per-call timeout.
// A non-positive ratePerSec disables the limiter.
func Throttle(next Completer, ratePerSec float64, burst int, timeout time.Duration) Completer {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if burst < 1 {
		burst = 1
	}
	return &throttled{next: next, limiter: rate.NewLimiter(limit, burst), timeout: timeout}
}

func (t *throttled) Complete(ctx context.Context, p Prompt) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return t.next.Complete(ctx, p)
}

// ErrOffline is returned by Offline.
var ErrOffline = errors.New("llm is not configured")

// Offline is a Completer that always fails. An Agent built on it degrades
// every task to its fallback.
type Offline struct{}

func (Offline) Complete(context.Context, Prompt) (string, error) { return "", ErrOffline }
