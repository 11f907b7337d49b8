// Package shopify provides the rate-limited order source client.
package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labcase_backend/platform/apperr"
	"labcase_backend/platform/config"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const apiVersion = "2024-01"

// Client fetches orders from the Shopify Admin API. Request pacing and the
// concurrent-request bound are owned by the client instance so tests can
// construct isolated clients with their own limiter state.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	inflight    *semaphore.Weighted
}

// New creates a client from configuration. The limiter enforces a minimum
// spacing between requests and the semaphore bounds concurrent requests.
func New(cfg config.ShopifyConfig) *Client {
	minInterval := cfg.GetShopifyMinInterval()
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}
	maxConcurrent := cfg.GetShopifyMaxConcurrent()
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Client{
		baseURL:     "https://" + cfg.GetShopifyShopDomain(),
		accessToken: cfg.GetShopifyAccessToken(),
		httpClient:  &http.Client{Timeout: cfg.GetShopifyTimeout()},
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		inflight:    semaphore.NewWeighted(maxConcurrent),
	}
}

// FetchOrderByNumber retrieves one order by its human-readable order name
// (e.g. "#1001"). Returns apperr.NotFound when no order matches and
// apperr.Unavailable on transport or upstream failures.
func (c *Client) FetchOrderByNumber(ctx context.Context, name string) (Order, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Order{}, apperr.Validation("order number is required")
	}

	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return Order{}, apperr.Wrap(apperr.KindUnavailable, "order source busy", err)
	}
	defer c.inflight.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return Order{}, apperr.Wrap(apperr.KindUnavailable, "order source rate limit wait cancelled", err)
	}

	endpoint := fmt.Sprintf("%s/admin/api/%s/orders.json?status=any&name=%s",
		c.baseURL, apiVersion, url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Order{}, apperr.Wrap(apperr.KindInternal, "build order source request", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Order{}, apperr.Wrap(apperr.KindUnavailable, "order source unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Order{}, apperr.NotFound(fmt.Sprintf("order %s not found", name))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Order{}, apperr.Unavailable(fmt.Sprintf("order source returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return Order{}, apperr.Internal(fmt.Sprintf("order source returned status %d", resp.StatusCode))
	}

	var envelope ordersEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Order{}, apperr.Wrap(apperr.KindUnavailable, "decode order source response", err)
	}

	for _, order := range envelope.Orders {
		if strings.EqualFold(order.Name, name) {
			return order, nil
		}
	}
	return Order{}, apperr.NotFound(fmt.Sprintf("order %s not found", name))
}
