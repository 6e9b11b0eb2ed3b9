// Package assets re-signs expiring asset URLs through the site API.
// Presigned S3 URLs go stale while a channel sits paused, so the audio
// dispatcher asks this client for a fresh one on resume. The client caches
// signatures for the configured expiry window, so rapid pause/resume cycles
// cost one upstream call. Refresh is strictly best-effort: a nil *Client
// disables it, an open breaker or a failed request leaves the stored URL
// in place.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/metrics"
)

// requestTimeout bounds a single presign round trip.
const requestTimeout = 5 * time.Second

// Client fetches fresh presigned URLs from the site API. It satisfies
// game.AudioURLRefresher.
type Client struct {
	http    *http.Client
	baseURL string
	ttl     time.Duration
	cb      *gobreaker.CircuitBreaker
	now     func() time.Time

	mu     sync.Mutex
	signed map[string]signedURL
}

// signedURL is one cached presign result.
type signedURL struct {
	url       string
	expiresAt time.Time
}

// presignResponse is the site API payload for GET /assets/{id}/presign.
type presignResponse struct {
	AssetID   string `json:"asset_id"`
	S3URL     string `json:"s3_url"`
	ExpiresIn int    `json:"expires_in"`
}

// New builds a client for the given site API base URL. An empty base URL
// returns nil, which callers treat as refresh-disabled. ttl is how long a
// signature is trusted before the next call re-fetches; zero or negative
// disables caching.
func New(baseURL string, ttl time.Duration) *Client {
	if baseURL == "" {
		return nil
	}

	st := gobreaker.Settings{
		Name:        "api-site",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("api_site").Set(stateVal)
		},
	}

	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		cb:      gobreaker.NewCircuitBreaker(st),
		now:     time.Now,
		signed:  make(map[string]signedURL),
	}
}

// RefreshAudioURL returns a presigned URL for the asset, served from the
// signature cache while the previous one is still inside its expiry window.
func (c *Client) RefreshAudioURL(ctx context.Context, assetID string) (string, error) {
	if c == nil || c.http == nil {
		return "", fmt.Errorf("asset URL refresh is disabled")
	}
	if assetID == "" {
		return "", fmt.Errorf("asset id is required")
	}

	if cached, ok := c.cachedURL(assetID); ok {
		return cached, nil
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetchPresign(ctx, assetID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("api_site").Inc()
			logging.Warn(ctx, "⚠️ Presign refresh skipped, breaker open",
				zap.String("asset_id", assetID))
			return "", fmt.Errorf("asset service unavailable")
		}
		return "", err
	}

	body := res.(presignResponse)
	c.cacheURL(assetID, body)

	logging.Debug(ctx, "Refreshed presigned asset URL",
		zap.String("asset_id", assetID))
	return body.S3URL, nil
}

// cachedURL returns the cached signature when it has not expired.
func (c *Client) cachedURL(assetID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.signed[assetID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.url, true
}

// cacheURL stores a fresh signature. The upstream's expires_in wins when it
// is tighter than the configured window.
func (c *Client) cacheURL(assetID string, body presignResponse) {
	ttl := c.ttl
	if body.ExpiresIn > 0 {
		if upstream := time.Duration(body.ExpiresIn) * time.Second; upstream < ttl {
			ttl = upstream
		}
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.signed[assetID] = signedURL{url: body.S3URL, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// fetchPresign performs one GET against {base}/assets/{id}/presign.
func (c *Client) fetchPresign(ctx context.Context, assetID string) (presignResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/assets/%s/presign", c.baseURL, url.PathEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return presignResponse{}, fmt.Errorf("failed to build presign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return presignResponse{}, fmt.Errorf("presign request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return presignResponse{}, fmt.Errorf("presign request returned status %d", resp.StatusCode)
	}

	var body presignResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return presignResponse{}, fmt.Errorf("failed to decode presign response: %w", err)
	}
	if body.S3URL == "" {
		return presignResponse{}, fmt.Errorf("presign response missing s3_url")
	}

	return body, nil
}
