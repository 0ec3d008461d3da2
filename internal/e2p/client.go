package e2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"socialboost/internal/cache"
	"socialboost/internal/metrics"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL  = "https://e2payments.explicador.co.mz"
	formContentType = "application/x-www-form-urlencoded"
	tokenCacheKey   = "e2p:token"
	tokenSafety     = 60 * time.Second
	maxSnippet      = 300
)

var (
	// ErrAuth indicates the gateway rejected the client credentials or the bearer token.
	ErrAuth = errors.New("e2payments authentication failed")
	// ErrUnavailable indicates the gateway could not be reached or answered with garbage.
	ErrUnavailable = errors.New("e2payments unavailable")
)

// Method is a supported mobile money wallet.
type Method string

const (
	MethodMpesa Method = "mpesa"
	MethodEmola Method = "emola"
)

// ParseMethod normalises user input into a Method.
func ParseMethod(raw string) (Method, bool) {
	switch Method(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodMpesa:
		return MethodMpesa, true
	case MethodEmola:
		return MethodEmola, true
	default:
		return "", false
	}
}

// Config holds E2Payments client configuration.
type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	MpesaShortcode string
	EmolaShortcode string
	Timeout        time.Duration
}

// Client talks to the E2Payments C2B API.
type Client struct {
	logger  *slog.Logger
	cfg     Config
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
	cache   *cache.Redis

	mu     sync.Mutex
	token  string
	expiry time.Time
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// New creates a new E2Payments client. redis may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics, redis *cache.Redis) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "e2payments"),
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		cache:   redis,
	}
}

// PaymentRequest is a C2B charge against a customer's wallet.
type PaymentRequest struct {
	Method    Method
	Amount    decimal.Decimal
	Reference string
	Phone     string
}

// PaymentResponse carries the raw gateway answer and its interpretation.
type PaymentResponse struct {
	StatusCode int
	Body       []byte
	Outcome    Outcome
	Message    string
}

// Detail summarises the response for storage alongside a payment attempt.
func (r *PaymentResponse) Detail() map[string]any {
	if r == nil {
		return map[string]any{}
	}
	detail := map[string]any{
		"http_status": r.StatusCode,
		"outcome":     r.Outcome.String(),
	}
	if r.Message != "" {
		detail["message"] = r.Message
	}
	if len(r.Body) > 0 {
		detail["body"] = snippet(r.Body)
	}
	return detail
}

// Token returns a bearer token, exchanging client credentials when the cached one is missing or about to expire.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.token != "" && now.Before(c.expiry) {
		return c.token, nil
	}

	var cached cachedToken
	ok, err := c.cache.GetJSON(ctx, tokenCacheKey, &cached)
	if err != nil {
		c.logger.Warn("read token cache failed", "error", err)
	} else if ok && cached.AccessToken != "" && now.Before(cached.ExpiresAt) {
		c.token, c.expiry = cached.AccessToken, cached.ExpiresAt
		return c.token, nil
	}

	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", fmt.Errorf("%w: missing client credentials", ErrAuth)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	status, body, err := c.do(ctx, "/oauth/token", "", form)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("%w: token status=%d body=%s", ErrAuth, status, snippet(body))
	}
	data, err := decodeMap(body)
	if err != nil {
		return "", fmt.Errorf("%w: token endpoint returned non-JSON status=%d", ErrUnavailable, status)
	}
	access := firstString(data, "access_token", "token")
	if access == "" {
		return "", fmt.Errorf("%w: token response without access_token status=%d", ErrAuth, status)
	}
	ttl := time.Duration(firstFloat(data, "expires_in")) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if ttl > 2*tokenSafety {
		ttl -= tokenSafety
	}
	c.token = access
	c.expiry = now.Add(ttl)
	if err := c.cache.SetJSON(ctx, tokenCacheKey, cachedToken{AccessToken: access, ExpiresAt: c.expiry}, ttl); err != nil {
		c.logger.Warn("set token cache failed", "error", err)
	}
	c.logger.Debug("gateway token refreshed", "expires_in", ttl.String())
	return access, nil
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken(ctx context.Context) {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
	if err := c.cache.Delete(ctx, tokenCacheKey); err != nil {
		c.logger.Warn("delete token cache failed", "error", err)
	}
}

// Pay submits a C2B charge. Transport failures are returned wrapped in
// ErrUnavailable; a 401 drops the token and returns ErrAuth. Any other
// answer is returned with its Outcome, which the caller must inspect.
func (c *Client) Pay(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	shortcode, err := c.shortcode(req.Method)
	if err != nil {
		return nil, err
	}
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("amount", req.Amount.String())
	form.Set("reference", req.Reference)
	form.Set("phone", req.Phone)

	endpoint := fmt.Sprintf("/v1/c2b/%s-payment/%s", req.Method, shortcode)
	status, body, err := c.do(ctx, endpoint, token, form)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.InvalidateToken(ctx)
		return nil, fmt.Errorf("%w: payment status=%d", ErrAuth, status)
	}

	resp := &PaymentResponse{
		StatusCode: status,
		Body:       body,
		Outcome:    Interpret(body),
	}
	if data, err := decodeMap(body); err == nil {
		resp.Message = firstString(data, "success", "error", "message")
	}
	c.logger.Info("gateway payment answered",
		"method", string(req.Method),
		"reference", req.Reference,
		"status", status,
		"outcome", resp.Outcome.String(),
	)
	return resp, nil
}

func (c *Client) shortcode(m Method) (string, error) {
	switch m {
	case MethodMpesa:
		if c.cfg.MpesaShortcode != "" {
			return c.cfg.MpesaShortcode, nil
		}
	case MethodEmola:
		if c.cfg.EmolaShortcode != "" {
			return c.cfg.EmolaShortcode, nil
		}
	default:
		return "", fmt.Errorf("unsupported payment method %q", m)
	}
	return "", fmt.Errorf("no shortcode configured for %s", m)
}

func (c *Client) do(ctx context.Context, endpoint, bearer string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "socialboost/e2payments-client")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	label := metricEndpoint(endpoint)
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GatewayRequests.WithLabelValues(label, "error").Inc()
		}
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, label, err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.GatewayRequests.WithLabelValues(label, statusLabel).Inc()
		c.metrics.GatewayLatency.WithLabelValues(label, statusLabel).Observe(time.Since(start).Seconds())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return res.StatusCode, body, nil
}

func metricEndpoint(endpoint string) string {
	switch {
	case endpoint == "/oauth/token":
		return "token"
	case strings.HasPrefix(endpoint, "/v1/c2b/mpesa"):
		return "mpesa"
	case strings.HasPrefix(endpoint, "/v1/c2b/emola"):
		return "emola"
	default:
		return "other"
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		return s[:maxSnippet]
	}
	return s
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str := toString(val); str != "" {
				return str
			}
		}
	}
	return ""
}

func firstFloat(data map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if f := toFloat(val); f != 0 {
				return f
			}
		}
	}
	return 0
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func toFloat(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return parsed
		}
		return 0
	default:
		return 0
	}
}
