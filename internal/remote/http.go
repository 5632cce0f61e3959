package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/msageha/psstudio/internal/model"
)

const maxResponseBytes = 16 << 20

// HTTPClient fetches the server's default solver configuration and entity schemas.
type HTTPClient struct {
	base       string
	configPath string
	schemaPath string
	http       *http.Client
}

func NewHTTPClient(cfg model.ServerConfig, hc *http.Client) *HTTPClient {
	if hc == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		configPath: cfg.ConfigPath,
		schemaPath: strings.TrimRight(cfg.SchemaPath, "/"),
		http:       hc,
	}
}

// FetchDefaultConfig returns the server's full solver configuration.
func (c *HTTPClient) FetchDefaultConfig(ctx context.Context) (model.Values, error) {
	var out model.Values
	if err := c.getJSON(ctx, "fetch config", c.base+c.configPath, &out); err != nil {
		return nil, err
	}
	return model.NormalizeValues(out), nil
}

// FetchSchema returns the template for kind. Servers answer either {"schema": {...}}
// or the template object itself.
func (c *HTTPClient) FetchSchema(ctx context.Context, kind string) (model.Values, error) {
	var out model.Values
	u := c.base + c.schemaPath + "/" + url.PathEscape(kind)
	if err := c.getJSON(ctx, "fetch schema "+kind, u, &out); err != nil {
		return nil, err
	}
	if inner, ok := out.Map("schema"); ok {
		out = inner
	}
	return model.NormalizeValues(out), nil
}

func (c *HTTPClient) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.NewNetworkError(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.NewNetworkError(op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return model.NewServerError(op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return model.NewServerError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
