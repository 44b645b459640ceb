// Package identity asks the external identity provider whether a customer's
// bearer token is valid and caches positive answers.
package identity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 5 * time.Minute
	verifyPath      = "/v1/verify"
)

// Config points the client at the provider.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client verifies tokens over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *bigcache.BigCache
	logger  *zap.Logger
}

// New constructs a Client. Close releases the cache.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identity base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheCfg := bigcache.DefaultConfig(cfg.CacheTTL)
	cacheCfg.Shards = 64
	cacheCfg.MaxEntrySize = 64
	cacheCfg.CleanWindow = cfg.CacheTTL
	cacheCfg.Verbose = false
	cache, err := bigcache.New(ctx, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create identity cache: %w", err)
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		TLSHandshakeTimeout: cfg.Timeout,
		MaxIdleConnsPerHost: 16,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cache:   cache,
		logger:  logger.Named("identity"),
	}, nil
}

// Close stops the cache janitor.
func (c *Client) Close() error {
	return c.cache.Close()
}

type verifyRequest struct {
	CustomerID string `json:"customer_id"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyUser reports whether token authenticates customerID. Only positive
// answers are cached, so a revoked token stops working once its entry expires.
func (c *Client) VerifyUser(ctx context.Context, customerID, token string) (bool, error) {
	key := cacheKey(customerID, token)
	if _, err := c.cache.Get(key); err == nil {
		return true, nil
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn("identity cache read", zap.Error(err))
	}

	ok, err := c.verify(ctx, customerID, token)
	if err != nil {
		return false, err
	}
	if ok {
		if err := c.cache.Set(key, []byte{1}); err != nil {
			c.logger.Warn("identity cache write", zap.Error(err))
		}
	}
	return ok, nil
}

func (c *Client) verify(ctx context.Context, customerID, token string) (bool, error) {
	body, err := json.Marshal(verifyRequest{CustomerID: customerID})
	if err != nil {
		return false, fmt.Errorf("marshal verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("new verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, model.Errorf(model.CodeInternal, "identity provider answered %s", resp.Status)
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode verify response: %w", err)
	}
	return out.Valid, nil
}

func cacheKey(customerID, token string) string {
	sum := sha256.Sum256([]byte(customerID + "\x00" + token))
	return string(sum[:])
}
