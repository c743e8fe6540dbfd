package bibliographic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	books "google.golang.org/api/books/v1"
	"google.golang.org/api/option"

	"github.com/MeKo-Tech/shelfscan/internal/common"
)

// Config configures the Books client and its cache.
type Config struct {
	APIKey   string
	Lang     string
	Timeout  time.Duration
	Endpoint string
	CacheTTL time.Duration
}

// DefaultConfig restricts results to French-language volumes.
func DefaultConfig() Config {
	return Config{
		Lang:     "fr",
		Timeout:  6 * time.Second,
		CacheTTL: 24 * time.Hour,
	}
}

// Verifier queries the Google Books volumes API.
type Verifier struct {
	svc     *books.Service
	lang    string
	timeout time.Duration
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// NewVerifier creates a Books client. It returns ErrNoAPIKey when cfg has no
// key; callers that want lookups to be skipped should use Disabled instead.
func NewVerifier(ctx context.Context, cfg Config, cache Cache, logger *slog.Logger) (*Verifier, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := books.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create books service: %w", err)
	}
	if cfg.Lang == "" {
		cfg.Lang = "fr"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	return &Verifier{
		svc:     svc,
		lang:    cfg.Lang,
		timeout: cfg.Timeout,
		cache:   cache,
		ttl:     cfg.CacheTTL,
		logger:  logger,
	}, nil
}

// Lookup returns the first volume matching query. No items is a success with
// a nil candidate; a transport or API error is Failed.
func (v *Verifier) Lookup(ctx context.Context, query string) CandidateOutcome {
	if query == "" {
		return CandidateOutcome{Outcome: common.Skipped}
	}

	key := cacheKey(query, v.lang)
	if v.cache != nil {
		c, hit, err := v.cache.Get(ctx, key)
		if err != nil {
			v.logger.Warn("books cache read failed", "stage", "lookup", "error", err)
		} else if hit {
			return CandidateOutcome{Candidate: c, Outcome: common.Success}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.svc.Volumes.List(query).MaxResults(1).LangRestrict(v.lang).Context(callCtx).Do()
	if err != nil {
		v.logger.Warn("google books lookup failed", "stage", "lookup", "query", query, "error", err)
		return CandidateOutcome{Outcome: common.Failed}
	}

	var c *Candidate
	if len(resp.Items) > 0 && resp.Items[0].VolumeInfo != nil {
		c = candidateFrom(resp.Items[0].VolumeInfo, query)
	}

	if v.cache != nil {
		if err := v.cache.Set(ctx, key, c, v.ttl); err != nil {
			v.logger.Warn("books cache write failed", "stage", "lookup", "error", err)
		}
	}
	return CandidateOutcome{Candidate: c, Outcome: common.Success}
}

func candidateFrom(info *books.VolumeVolumeInfo, query string) *Candidate {
	c := &Candidate{
		Title:         info.Title,
		Authors:       info.Authors,
		PublishedDate: info.PublishedDate,
	}
	if c.Title == "" {
		c.Title = query
	}
	if c.Authors == nil {
		c.Authors = []string{}
	}
	ids := make([]Identifier, 0, len(info.IndustryIdentifiers))
	for _, id := range info.IndustryIdentifiers {
		if id != nil {
			ids = append(ids, Identifier{Type: id.Type, Identifier: id.Identifier})
		}
	}
	c.ISBN = FindISBN(ids)
	if info.ImageLinks != nil {
		c.CoverURL = info.ImageLinks.Thumbnail
	}
	return c
}

// Disabled skips every lookup. It stands in for the verifier when no API key
// is configured.
type Disabled struct{}

func (Disabled) Lookup(context.Context, string) CandidateOutcome {
	return CandidateOutcome{Outcome: common.Skipped}
}
