package http

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/flemzord/divsync/internal/security"
	"github.com/flemzord/divsync/internal/syncer"
)

// pageResponse is the body returned by the remote API for one page.
type pageResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// Source implements syncer.Source over a paginated JSON API.
type Source struct {
	client   *resty.Client
	path     string
	limiter  *rate.Limiter
	maxBytes int
}

var _ syncer.Source = (*Source)(nil)

// NewSource builds a Source from cfg. Defaults are applied to a copy.
func NewSource(cfg Config) *Source {
	cfg.defaults()

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "divsync")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	if token := cfg.token(); token != "" {
		client.SetAuthToken(token)
	}

	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	return &Source{
		client:   client,
		path:     cfg.Path,
		limiter:  limiter,
		maxBytes: cfg.MaxResponseBytes,
	}
}

// FetchPage implements syncer.Source. Every failure, including a body
// that is not a well-formed page, wraps syncer.ErrRemoteFetch.
func (s *Source) FetchPage(ctx context.Context, cursor string, limit int) (syncer.Page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return syncer.Page{}, fmt.Errorf("%w: rate limit wait: %w", syncer.ErrRemoteFetch, err)
	}

	req := s.client.R().SetContext(ctx)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get(s.path)
	if err != nil {
		return syncer.Page{}, fmt.Errorf("%w: GET %s: %w", syncer.ErrRemoteFetch, s.path, err)
	}
	if !resp.IsSuccess() {
		return syncer.Page{}, fmt.Errorf("%w: GET %s: status %d", syncer.ErrRemoteFetch, s.path, resp.StatusCode())
	}

	body := resp.Body()
	if err := security.ValidatePayload(body, s.maxBytes, security.DefaultMaxJSONDepth); err != nil {
		return syncer.Page{}, fmt.Errorf("%w: GET %s: %w", syncer.ErrRemoteFetch, s.path, err)
	}

	var page pageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return syncer.Page{}, fmt.Errorf("%w: GET %s: decode page: %w", syncer.ErrRemoteFetch, s.path, err)
	}
	if page.HasMore && page.NextCursor == "" {
		return syncer.Page{}, fmt.Errorf("%w: GET %s: has_more without next_cursor", syncer.ErrRemoteFetch, s.path)
	}

	return syncer.Page{
		Records:    page.Data,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}, nil
}
