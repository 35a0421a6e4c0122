package cubyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production Cuby cloud endpoint.
	DefaultBaseURL = "https://cuby.cloud/api/v2"

	// TokenTTLSeconds is the requested token lifetime: 365 days.
	TokenTTLSeconds = 365 * 24 * 60 * 60

	defaultTimeout = 15 * time.Second
)

// Client talks to the Cuby cloud REST API. It is stateless per call: the
// bearer token is passed in, never cached, and no call retries internally.
// Retry policy belongs to the poll coordinator and command dispatcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client against baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("component", "cubyapi"),
	}
}

// Authenticate requests a bearer token for the account.
// POST /token/{email} body {"password": ..., "expiration": <seconds>}.
func (c *Client) Authenticate(ctx context.Context, email, password string) (Token, error) {
	body := map[string]any{"password": password, "expiration": TokenTTLSeconds}
	resp, err := c.do(ctx, http.MethodPost, "/token/"+url.PathEscape(email), "", body)
	if err != nil {
		return Token{}, &NetworkError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Token{}, &AuthError{Status: resp.StatusCode, Body: readBody(resp)}
	case resp.StatusCode >= 400:
		return Token{}, &NetworkError{Op: "authenticate", Err: statusError(resp)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, &MalformedResponseError{Op: "authenticate", Err: err}
	}
	token := tr.Token
	if token == "" {
		token = tr.AccessToken
	}
	if token == "" {
		return Token{}, &MalformedResponseError{Op: "authenticate", Err: fmt.Errorf("token missing from response")}
	}
	expires := tr.ExpiresIn
	if expires <= 0 {
		expires = TokenTTLSeconds
	}
	return Token{Token: token, ExpiresIn: expires}, nil
}

// ListDevices returns all devices linked to the account. GET /devices.
func (c *Client) ListDevices(ctx context.Context, token string) ([]Device, error) {
	resp, err := c.do(ctx, http.MethodGet, "/devices", token, nil)
	if err != nil {
		return nil, &NetworkError{Op: "list devices", Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "list devices", ""); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "list devices", Err: err}
	}

	// The endpoint has returned both a bare array and {"devices": [...]}.
	var devices []Device
	if err := json.Unmarshal(data, &devices); err == nil {
		return devices, nil
	}
	var wrapped devicesResponse
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, &MalformedResponseError{Op: "list devices", Err: err}
	}
	return wrapped.Devices, nil
}

// FetchState returns the detailed state document for one device.
// GET /devices/{id}?getState=true.
func (c *Client) FetchState(ctx context.Context, token, deviceID string) (RawState, error) {
	path := "/devices/" + url.PathEscape(deviceID) + "?getState=true"
	resp, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return RawState{}, &NetworkError{Op: "fetch state", Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "fetch state", deviceID); err != nil {
		return RawState{}, err
	}

	var raw RawState
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return RawState{}, &MalformedResponseError{Op: "fetch state", Err: err}
	}
	if raw.ID == "" {
		raw.ID = deviceID
	}
	return raw, nil
}

// SendCommand posts a control payload to a device. POST /state/{id}.
func (c *Client) SendCommand(ctx context.Context, token, deviceID string, cmd Command) error {
	if _, ok := cmd["type"].(string); !ok {
		return fmt.Errorf("command payload must carry a type key")
	}

	resp, err := c.do(ctx, http.MethodPost, "/state/"+url.PathEscape(deviceID), token, cmd)
	if err != nil {
		return &NetworkError{Op: "send command", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode, Body: readBody(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return &DeviceNotFoundError{DeviceID: deviceID}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &CommandRejectedError{DeviceID: deviceID, Status: resp.StatusCode, Body: readBody(resp)}
	case resp.StatusCode >= 500:
		return &NetworkError{Op: "send command", Err: statusError(resp)}
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response, op, deviceID string) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode, Body: readBody(resp)}
	case resp.StatusCode == http.StatusNotFound && deviceID != "":
		return &DeviceNotFoundError{DeviceID: deviceID}
	case resp.StatusCode >= 400:
		return &NetworkError{Op: op, Err: statusError(resp)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("api request", "method", method, "path", path)
	return c.httpClient.Do(req)
}

func statusError(resp *http.Response) error {
	return fmt.Errorf("api error %d: %s", resp.StatusCode, readBody(resp))
}

// readBody drains up to 4 KB of the response body for error messages.
func readBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.TrimSpace(string(data))
}
