// Package catalog talks to the product catalog service.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"orders-service/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const validatePath = "/products/validate"

// Client resolves product ids against the catalog in one batched call.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	group      singleflight.Group
	logger     zerolog.Logger
}

// NewClient creates a catalog client. A nil httpClient uses a default client.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "catalog-client").Logger(),
	}
}

type validateRequest struct {
	IDs []string `json:"ids"`
}

// Validate returns the catalog entries for ids. Ids unknown to the catalog are
// simply absent from the result. Concurrent calls for the same id set share one
// request; each caller still honours its own context.
func (c *Client) Validate(ctx context.Context, ids []string) ([]model.Product, error) {
	if len(ids) == 0 {
		return []model.Product{}, nil
	}

	key := flightKey(ids)
	ch := c.group.DoChan(key, func() (any, error) {
		// Detached from the first caller so its cancellation does not fail the others.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(reqCtx, ids)
	})

	select {
	case <-ctx.Done():
		return nil, model.NewDependencyError(model.ErrCodeCatalogUnavailable, "catalog lookup abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]model.Product)), nil
	}
}

func (c *Client) fetch(ctx context.Context, ids []string) ([]model.Product, error) {
	body, err := json.Marshal(validateRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().
			Err(err).
			Int("id_count", len(ids)).
			Bool("timeout", errors.Is(err, context.DeadlineExceeded)).
			Msg("catalog request failed")
		return nil, model.NewDependencyError(model.ErrCodeCatalogUnavailable, "catalog service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("catalog returned an error status")
		return nil, model.NewDependencyError(model.ErrCodeCatalogUnavailable,
			fmt.Sprintf("catalog service returned status %d", resp.StatusCode), nil)
	}

	var products []model.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		c.logger.Error().Err(err).Msg("failed to decode catalog response")
		return nil, model.NewDependencyError(model.ErrCodeCatalogUnavailable, "invalid catalog response", err)
	}

	c.logger.Debug().
		Int("requested", len(ids)).
		Int("found", len(products)).
		Dur("duration", time.Since(start)).
		Msg("catalog lookup completed")

	return products, nil
}

func flightKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}
