package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/woxQAQ/diffeq-wasm/pkg/protocol"
	"go.uber.org/zap"
)

// DefaultBaseURL is the hosted compilation service.
const DefaultBaseURL = "https://diffeq-backend-staging.fly.dev"

// Config holds client configuration.
type Config struct {
	// BaseURL of the service, without the /compile path.
	BaseURL string

	// ModelName is sent with every request.
	ModelName string

	// HTTPClient defaults to a client without a timeout. Bound requests with
	// the context instead.
	HTTPClient *http.Client
}

// DefaultConfig returns the hosted service settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		ModelName: protocol.DefaultModelName,
	}
}

// Client sends model text to the compilation service.
type Client struct {
	endpoint  string
	modelName string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a client. Empty config fields take their defaults.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ModelName == "" {
		cfg.ModelName = protocol.DefaultModelName
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + protocol.CompilePath,
		modelName: cfg.ModelName,
		http:      cfg.HTTPClient,
		logger:    logger.With(zap.String("component", "compiler-client")),
	}
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ModelName returns the name sent with each request.
func (c *Client) ModelName() string {
	return c.modelName
}

// Compile submits text and returns the compiled binary. A non-2xx answer is
// a *CompilationError carrying the response body; anything that prevents a
// complete answer is a *TransportError. Nothing is retried or cached.
func (c *Client) Compile(ctx context.Context, text string) (*Artifact, error) {
	body, err := json.Marshal(protocol.CompileRequest{
		Text: text,
		Name: c.modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: c.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", protocol.ContentType)
	req.Header.Set("Accept", protocol.WasmContentType)

	c.logger.Info("Compiling model",
		zap.String("name", c.modelName),
		zap.String("endpoint", c.endpoint),
		zap.Int("text_bytes", len(text)),
	)

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: c.endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Info("Model rejected",
			zap.String("name", c.modelName),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &CompilationError{
			StatusCode: resp.StatusCode,
			Diagnostic: string(data),
		}
	}

	artifact := newArtifact(c.modelName, data)

	c.logger.Info("Model compiled",
		zap.String("name", c.modelName),
		zap.Int64("size_bytes", artifact.Size()),
		zap.String("digest", artifact.Digest),
		zap.Duration("duration", time.Since(start)),
	)

	return artifact, nil
}
