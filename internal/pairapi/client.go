// Package pairapi queries the pair factory contract through a Cosmos LCD
// endpoint.
package pairapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"pairsync/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 10 * time.Second

// Endpoint locates the factory contract of one network.
type Endpoint struct {
	LCD     string
	Factory string
}

// Config holds client settings.
type Config struct {
	Endpoints    map[string]Endpoint
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
}

// PageRequest asks for up to Limit pairs strictly after StartAfter.
type PageRequest struct {
	Limit      int
	StartAfter *[2]model.AssetInfo
}

// PageResponse carries one page of pairs in factory order.
type PageResponse struct {
	Pairs []model.Pair `json:"pairs"`
}

// Client fetches pair pages over HTTP.
type Client struct {
	endpoints    map[string]Endpoint
	http         *http.Client
	maxRetries   int
	retryBackoff time.Duration
	userAgent    string
	logger       *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one network endpoint is required")
	}

	endpoints := make(map[string]Endpoint, len(cfg.Endpoints))
	for name, ep := range cfg.Endpoints {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("network name is required")
		}
		if ep.LCD == "" {
			return nil, fmt.Errorf("network %s: lcd url is required", name)
		}
		if ep.Factory == "" {
			return nil, fmt.Errorf("network %s: factory address is required", name)
		}
		ep.LCD = strings.TrimSuffix(ep.LCD, "/")
		endpoints[name] = ep
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "pairsync/1.0"
	}

	return &Client{
		endpoints:    endpoints,
		http:         &http.Client{Timeout: timeout},
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		userAgent:    userAgent,
		logger:       logger,
	}, nil
}

// Networks lists the configured network names, sorted.
func (c *Client) Networks() []string {
	out := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetPairs fetches one page of pairs for network.
func (c *Client) GetPairs(ctx context.Context, network string, req PageRequest) (PageResponse, error) {
	ep, ok := c.endpoints[network]
	if !ok {
		return PageResponse{}, fmt.Errorf("unknown network: %s", network)
	}

	endpoint, err := smartQueryURL(ep, req)
	if err != nil {
		return PageResponse{}, err
	}

	var page PageResponse
	err = withRetry(ctx, c.maxRetries, c.retryBackoff, func(ctx context.Context) error {
		var err error
		page, err = c.query(ctx, endpoint)
		if err != nil {
			c.logger.Debug("pairs query failed", zap.Error(err), zap.String("network", network))
		}
		return err
	})
	if err != nil {
		return PageResponse{}, err
	}
	return page, nil
}

func (c *Client) query(ctx context.Context, endpoint string) (PageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PageResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return PageResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var lcdErr lcdError
		_ = json.Unmarshal(body, &lcdErr)
		return PageResponse{}, &StatusError{StatusCode: resp.StatusCode, Message: lcdErr.Message}
	}

	var payload smartQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PageResponse{}, fmt.Errorf("decode pairs response: %w", err)
	}
	return payload.Data, nil
}

type pairsQuery struct {
	Pairs pairsQueryArgs `json:"pairs"`
}

type pairsQueryArgs struct {
	Limit      int                 `json:"limit,omitempty"`
	StartAfter *[2]model.AssetInfo `json:"start_after,omitempty"`
}

type smartQueryResponse struct {
	Data PageResponse `json:"data"`
}

type lcdError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func smartQueryURL(ep Endpoint, req PageRequest) (string, error) {
	msg, err := json.Marshal(pairsQuery{Pairs: pairsQueryArgs{Limit: req.Limit, StartAfter: req.StartAfter}})
	if err != nil {
		return "", fmt.Errorf("marshal pairs query: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(msg)
	return fmt.Sprintf("%s/cosmwasm/wasm/v1/contract/%s/smart/%s",
		ep.LCD, url.PathEscape(ep.Factory), url.PathEscape(encoded)), nil
}
