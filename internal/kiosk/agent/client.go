// Package agent implements the kiosk side of the polling protocol: it
// heartbeats the coordinator, executes delivered commands against the relay
// bus, and reports each outcome.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/protocol"
	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds how long a signed polling token stays valid. Tokens are
// minted per request, so the window only needs to cover clock skew.
const tokenTTL = 2 * time.Minute

// Client talks to the coordinator HTTP API on behalf of one kiosk. Every
// request carries a fresh HMAC-signed token whose subject is the kiosk id.
type Client struct {
	baseURL    string
	kioskID    string
	secretKey  string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient builds a coordinator client for the given kiosk identity.
func NewClient(baseURL, kioskID, secretKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		kioskID:    kioskID,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// signToken mints a short-lived HS256 token identifying this kiosk.
func (c *Client) signToken() (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   c.kioskID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	return token.SignedString([]byte(c.secretKey))
}

// Heartbeat posts the kiosk's liveness and returns any commands the
// coordinator has dispatched for it.
func (c *Client) Heartbeat(ctx context.Context, req *protocol.HeartbeatRequest) (*protocol.HeartbeatResponse, error) {
	url := fmt.Sprintf("%s/v1/kiosks/%s/heartbeat", c.baseURL, c.kioskID)
	resp := &protocol.HeartbeatResponse{}
	if err := c.post(ctx, url, req, resp); err != nil {
		return nil, fmt.Errorf("heartbeat failed: %w", err)
	}
	return resp, nil
}

// ReportResult posts one command outcome back to the coordinator.
func (c *Client) ReportResult(ctx context.Context, commandID string, success bool, detail string) error {
	url := fmt.Sprintf("%s/v1/commands/%s/result", c.baseURL, commandID)
	req := &protocol.ResultRequest{Success: success, Detail: detail}
	if err := c.post(ctx, url, req, nil); err != nil {
		return fmt.Errorf("result report failed: %w", err)
	}
	return nil
}

// post sends a signed JSON request and decodes the response into out when
// out is non-nil.
func (c *Client) post(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.signToken()
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(common.KioskTokenHeaderName, "Bearer "+token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
