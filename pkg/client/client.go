package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to a running supervisor's read-only status API. It never
// mutates supervision state; there is nothing to mutate over the wire.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the server address including the base path, e.g.
	// "http://127.0.0.1:8787" or "https://host:8787/api".
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	TLS     *TLSConfig
	// Insecure skips all TLS verification. For self-signed development
	// endpoints only.
	Insecure bool
}

// TLSConfig pins the server identity for HTTPS endpoints.
type TLSConfig struct {
	// CACert is a PEM file to trust instead of the system roots. Point it
	// at the tls_ca.crt the server generated.
	CACert     string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns a config for the default local listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8787",
		Timeout: 10 * time.Second,
	}
}

// New creates a status API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8787"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil || config.Insecure {
		tlsConf, err := clientTLS(config)
		if err != nil {
			config.Logger.Error("Client TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConf
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable reports whether a supervisor answers healthz on the base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	var ok okResponse
	if err := c.getJSON(ctx, "/healthz", &ok); err != nil {
		c.logger.Debug("Supervisor unreachable", "url", c.baseURL, "error", err)
		return false
	}
	return ok.OK
}

// Status fetches all supervised targets, primary first.
func (c *Client) Status(ctx context.Context) ([]TargetStatus, error) {
	var rows []TargetStatus
	if err := c.getJSON(ctx, "/status", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// StatusByName fetches one target by name.
func (c *Client) StatusByName(ctx context.Context, name string) (TargetStatus, error) {
	var row TargetStatus
	err := c.getJSON(ctx, "/status?name="+url.QueryEscape(name), &row)
	return row, err
}

// Resources fetches the current host usage sample.
func (c *Client) Resources(ctx context.Context) (ResourceSnapshot, error) {
	var snap ResourceSnapshot
	err := c.getJSON(ctx, "/resources", &snap)
	return snap, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("HTTP %d from %s", resp.StatusCode, c.baseURL+path)
		}
		return fmt.Errorf("api error: %s", apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func clientTLS(config Config) (*tls.Config, error) {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConf.InsecureSkipVerify = true
		return tlsConf, nil
	}
	if config.TLS == nil {
		return tlsConf, nil
	}
	if config.TLS.SkipVerify {
		tlsConf.InsecureSkipVerify = true
	}
	if config.TLS.ServerName != "" {
		tlsConf.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		pemBytes, err := os.ReadFile(config.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("no certificates parsed from %s", config.TLS.CACert)
		}
		tlsConf.RootCAs = pool
	}
	return tlsConf, nil
}
