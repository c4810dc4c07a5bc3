package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jasona/mudforge-sub010/internal/sandbox"
)

// ErrRateLimited is returned from Call when the per-minute budget is
// exhausted; the bridge maps it onto an ordinary efun failure result.
var ErrRateLimited = errors.New("integrations: rate limit exceeded")

// Config describes one external-service integration: where to send the
// call, how to authenticate it, and its rate-limit/cache policy.
type Config struct {
	Name      string
	Endpoint  string
	APIKey    string
	RateLimit RateLimitConfig
	CacheSize int
	Timeout   time.Duration
}

// HTTPIntegration is a JSON-over-HTTP external service call, satisfying
// sandbox.Integration. Grounded on infrastructure/datafeed.Client's
// http.Client{Timeout: ...} plus context.WithTimeout request shape,
// generalized from a Chainlink-specific JSON-RPC body to a plain
// args-in/response-out JSON contract suitable for any of the spec's AI
// text/image, chat gateway, or HTTP search integrations — they all reduce
// to "POST some arguments, get back some JSON" once Call has checked its
// own response cache and rate limiter.
type HTTPIntegration struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *RateLimiter
	cache    *LRU
}

var _ sandbox.Integration = (*HTTPIntegration)(nil)

// New constructs an HTTPIntegration from cfg, filling sensible defaults.
func New(cfg Config) *HTTPIntegration {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	return &HTTPIntegration{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  NewRateLimiter(cfg.RateLimit),
		cache:    NewLRU(cfg.CacheSize),
	}
}

// Available reports whether the integration is configured with an
// endpoint to call.
func (h *HTTPIntegration) Available() bool {
	return h.endpoint != ""
}

// Call enforces the rate limit and response cache, then POSTs args as JSON
// to the configured endpoint and decodes the JSON response. The cache key
// is args["cache_key"] if present (the spec's "configurable cache key"),
// falling back to the JSON encoding of args itself — encoding/json sorts
// object keys, so the fallback key is stable across calls with identical
// arguments.
func (h *HTTPIntegration) Call(ctx context.Context, args map[string]any) (any, error) {
	if !h.Available() {
		return nil, fmt.Errorf("integrations: %s not configured", h.name)
	}

	key, err := h.cacheKey(args)
	if err != nil {
		return nil, err
	}
	if v, ok := h.cache.Get(key); ok {
		return v, nil
	}

	if !h.limiter.Allow() {
		return nil, ErrRateLimited
	}

	result, err := h.doCall(ctx, args)
	if err != nil {
		return nil, err
	}
	h.cache.Set(key, result)
	return result, nil
}

func (h *HTTPIntegration) cacheKey(args map[string]any) (string, error) {
	if ck, ok := args["cache_key"]; ok {
		if s, ok := ck.(string); ok && s != "" {
			return h.name + ":" + s, nil
		}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("integrations: encode cache key: %w", err)
	}
	return h.name + ":" + string(encoded), nil
}

func (h *HTTPIntegration) doCall(ctx context.Context, args map[string]any) (any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("integrations: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("integrations: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("integrations: %s request: %w", h.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("integrations: %s read response: %w", h.name, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("integrations: %s returned status %d: %s", h.name, resp.StatusCode, string(data))
	}

	if len(data) == 0 {
		return nil, nil
	}

	// args["result_path"] lets a caller pull one field out of a larger
	// response envelope (e.g. a search provider wrapping its real answer
	// in {"results": [...]}) without the driver needing to know each
	// integration's response shape in advance.
	if path, ok := args["result_path"].(string); ok && path != "" {
		r := gjson.GetBytes(data, path)
		if !r.Exists() {
			return nil, fmt.Errorf("integrations: %s result_path %q not found in response", h.name, path)
		}
		return r.Value(), nil
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("integrations: %s decode response: %w", h.name, err)
	}
	return result, nil
}

// NewAIText constructs the "ai_text" integration: a text-generation
// external service, per spec section 4.2's integration taxonomy.
func NewAIText(cfg Config) *HTTPIntegration {
	cfg.Name = "ai_text"
	return New(cfg)
}

// NewAIImage constructs the "ai_image" integration: an image-generation
// external service.
func NewAIImage(cfg Config) *HTTPIntegration {
	cfg.Name = "ai_image"
	return New(cfg)
}

// NewChatGateway constructs the "chat_gateway" integration: an outbound
// bridge to an external chat network (e.g. Discord).
func NewChatGateway(cfg Config) *HTTPIntegration {
	cfg.Name = "chat_gateway"
	return New(cfg)
}

// NewSearch constructs the "search" integration: an HTTP search provider.
func NewSearch(cfg Config) *HTTPIntegration {
	cfg.Name = "search"
	return New(cfg)
}
