// Package metaclient is the coordinator API client used by the gateway and
// the relay for registration, heartbeats and token checks.
package metaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/meta/dto"
)

type Client struct {
	base   string
	cookie string
	http   *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		base:   baseURL,
		cookie: "session-id",
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope is the coordinator's uniform response wrapper.
type envelope struct {
	Success      bool   `json:"success"`
	ErrorCode    int    `json:"error_code"`
	ErrorDetails string `json:"error_details"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if !env.Success {
		return fmt.Errorf("%s %s: error %d: %s", method, path, env.ErrorCode, env.ErrorDetails)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// SelfUserID resolves a session token to the account it belongs to.
func (c *Client) SelfUserID(ctx context.Context, token string) (uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/self", nil)
	if err != nil {
		return uuid.Nil, err
	}
	req.AddCookie(&http.Cookie{Name: c.cookie, Value: token})
	resp, err := c.http.Do(req)
	if err != nil {
		return uuid.Nil, err
	}
	defer resp.Body.Close()

	var body struct {
		envelope
		ID uuid.UUID `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return uuid.Nil, err
	}
	if !body.Success {
		return uuid.Nil, fmt.Errorf("self: error %d: %s", body.ErrorCode, body.ErrorDetails)
	}
	return body.ID, nil
}

func (c *Client) RegisterGateway(ctx context.Context, uid string, hb dto.TrophoniusHeartbeat) error {
	return c.do(ctx, http.MethodPut, "/trophonius/"+uid, hb, nil)
}

func (c *Client) UnregisterGateway(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodDelete, "/trophonius/"+uid, nil, nil)
}

func (c *Client) BindDevice(ctx context.Context, uid string, user, device uuid.UUID) error {
	return c.do(ctx, http.MethodPut,
		fmt.Sprintf("/trophonius/%s/users/%s/%s", uid, user, device), nil, nil)
}

func (c *Client) UnbindDevice(ctx context.Context, uid string, user, device uuid.UUID) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/trophonius/%s/users/%s/%s", uid, user, device), nil, nil)
}

func (c *Client) RegisterRelay(ctx context.Context, uid string, hb dto.ApertusHeartbeat) error {
	return c.do(ctx, http.MethodPut, "/apertus/"+uid, hb, nil)
}

func (c *Client) UnregisterRelay(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodDelete, "/apertus/"+uid, nil, nil)
}

func (c *Client) RelayBandwidth(ctx context.Context, uid string, bw dto.ApertusBandwidth) error {
	return c.do(ctx, http.MethodPost, "/apertus/"+uid+"/bandwidth", bw, nil)
}
