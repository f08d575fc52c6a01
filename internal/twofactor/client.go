// Package twofactor is the REST client for the external phone verification
// service (Authy-compatible API). Enrollment returns an opaque user id which
// the account record stores as its auth id.
package twofactor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const apiKeyHeader = "X-Authy-API-Key"

// Config for the provider endpoint. Timeout is the caller-imposed deadline on
// every provider call; a timeout surfaces as an ordinary request error.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ConfigFromEnv reads provider config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL: os.Getenv("TWOFACTOR_API_URL"),
		APIKey:  os.Getenv("TWOFACTOR_API_KEY"),
		Timeout: 10 * time.Second,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.authy.com"
	}
	if v := os.Getenv("TWOFACTOR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// Client talks to the provider over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type enrollResponse struct {
	User struct {
		ID int64 `json:"id"`
	} `json:"user"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Enroll registers a phone number for two-factor auth and returns the
// provider's opaque user id.
func (c *Client) Enroll(ctx context.Context, email, phone string, countryCode int) (string, error) {
	form := url.Values{}
	form.Set("user[email]", email)
	form.Set("user[cellphone]", phone)
	form.Set("user[country_code]", strconv.Itoa(countryCode))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/protected/json/users/new", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("two-factor enroll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("two-factor enroll: status %d", resp.StatusCode)
	}

	var body enrollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("two-factor enroll: decode: %w", err)
	}
	if !body.Success || body.User.ID == 0 {
		return "", fmt.Errorf("two-factor enroll rejected: %s", body.Message)
	}
	c.logger.Debugw("two-factor enrollment created", "auth_id", body.User.ID)
	return strconv.FormatInt(body.User.ID, 10), nil
}

// Remove deletes an enrollment.
func (c *Client) Remove(ctx context.Context, authID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/protected/json/users/"+url.PathEscape(authID)+"/remove", nil)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("two-factor remove: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("two-factor remove: status %d", resp.StatusCode)
	}
	return nil
}

// Verify checks a one-time code against an enrollment.
func (c *Client) Verify(ctx context.Context, authID, code string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/protected/json/verify/"+url.PathEscape(code)+"/"+url.PathEscape(authID), nil)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("two-factor verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("two-factor verify: status %d", resp.StatusCode)
	}
	return nil
}
