// Package client talks to a running botvisor server over HTTP.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080/whatsapp"
	DefaultTimeout = 10 * time.Second
)

// Client provides HTTP client functionality to communicate with a botvisor server
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string        // server URL including the base path, e.g. http://host:8080/whatsapp
	Timeout  time.Duration // per request; disconnect can take several seconds
	Logger   *slog.Logger  // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for servers behind a TLS terminator.
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// New creates a new botvisor API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
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

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	return true
}

// Status fetches the reconciled worker status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", &st)
	return st, err
}

// Start launches the worker. Starting a running worker is not an error;
// the result reports success=false.
func (c *Client) Start(ctx context.Context) (Result, error) {
	return c.result(ctx, "/start")
}

// Stop terminates the worker and removes its QR and status files.
func (c *Client) Stop(ctx context.Context) (Result, error) {
	return c.result(ctx, "/stop")
}

// Restart stops and starts the worker.
func (c *Client) Restart(ctx context.Context) (Result, error) {
	return c.result(ctx, "/restart")
}

// ClearQR removes the QR image.
func (c *Client) ClearQR(ctx context.Context) (Result, error) {
	return c.result(ctx, "/clear-qr")
}

// Disconnect logs the worker out. On failure the returned *APIError lists
// what was removed before the failure.
func (c *Client) Disconnect(ctx context.Context) (DisconnectResult, error) {
	var res DisconnectResult
	err := c.do(ctx, http.MethodPost, "/disconnect", &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		res.Removed = apiErr.Removed
	}
	return res, err
}

// result returns the partial outcome together with an *APIError.
func (c *Client) result(ctx context.Context, path string) (Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, path, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		res = apiErr.Result
	}
	return res, err
}

// do performs the request and decodes a 200 body into out.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns a non-200 response into an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Message = errorResp.Error
	apiErr.Result = Result{Success: errorResp.Success, Message: errorResp.Message, PID: errorResp.PID}
	apiErr.Removed = errorResp.Removed
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return apiErr
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}
