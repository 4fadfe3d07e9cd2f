// Package platform talks to the chat/voice bridge service over HTTP. The
// bridge owns the actual platform connection and all message rendering;
// this client only moves ids and snapshots across.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

// Client implements interfaces.Platform against the bridge REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a bridge client. The timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type channelRequest struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	UserLimit int    `json:"user_limit,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

type occupantsResponse struct {
	Occupants []string `json:"occupants"`
}

type messageRequest struct {
	Kind     string                  `json:"kind"`
	Session  *types.SessionSnapshot  `json:"session,omitempty"`
	Resource *types.ResourceSnapshot `json:"resource,omitempty"`
}

// CreateVoiceChannel creates a deny-all voice channel and returns its id
func (c *Client) CreateVoiceChannel(ctx context.Context, guildID, name string, userLimit int) (string, error) {
	var resp idResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", guildID),
		channelRequest{Type: "voice", Name: name, UserLimit: userLimit}, &resp, nil)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateTextChannel creates a deny-all text channel and returns its id
func (c *Client) CreateTextChannel(ctx context.Context, guildID, name string) (string, error) {
	var resp idResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", guildID),
		channelRequest{Type: "text", Name: name}, &resp, nil)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeleteChannel removes a channel; a missing channel surfaces as
// interfaces.ErrChannelNotFound
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s", channelID),
		nil, nil, interfaces.ErrChannelNotFound)
}

// GrantMemberAccess allows a member to connect to and view a channel
func (c *Client) GrantMemberAccess(ctx context.Context, channelID, memberID string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/permissions/%s", channelID, memberID),
		map[string]bool{"allow": true}, nil, interfaces.ErrChannelNotFound)
}

// SetDefaultJoin opens or closes the channel to members without a grant
func (c *Client) SetDefaultJoin(ctx context.Context, channelID string, allowed bool) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/default-join", channelID),
		map[string]bool{"allowed": allowed}, nil, interfaces.ErrChannelNotFound)
}

// SetUserLimit changes the connect cap on a voice channel
func (c *Client) SetUserLimit(ctx context.Context, voiceID string, limit int) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/channels/%s", voiceID),
		map[string]int{"user_limit": limit}, nil, interfaces.ErrChannelNotFound)
}

// ListOccupants returns the members currently connected to a voice channel
func (c *Client) ListOccupants(ctx context.Context, voiceID string) ([]string, error) {
	var resp occupantsResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/occupants", voiceID),
		nil, &resp, interfaces.ErrChannelNotFound)
	if err != nil {
		return nil, err
	}
	return resp.Occupants, nil
}

// PostRecruitmentPanel posts a recruitment panel and returns the message id
func (c *Client) PostRecruitmentPanel(ctx context.Context, channelID string, snapshot types.SessionSnapshot) (string, error) {
	var resp idResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID),
		messageRequest{Kind: "recruitment_panel", Session: &snapshot}, &resp, interfaces.ErrChannelNotFound)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// PostControlPanel posts the room control surface and returns the message id
func (c *Client) PostControlPanel(ctx context.Context, channelID string, snapshot types.ResourceSnapshot) (string, error) {
	var resp idResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID),
		messageRequest{Kind: "control_panel", Resource: &snapshot}, &resp, interfaces.ErrChannelNotFound)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// PostDashboard posts the recruitment dashboard and returns the message id
func (c *Client) PostDashboard(ctx context.Context, channelID string) (string, error) {
	var resp idResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID),
		messageRequest{Kind: "dashboard"}, &resp, interfaces.ErrChannelNotFound)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeleteMessage removes a message; a missing message surfaces as
// interfaces.ErrMessageNotFound
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID),
		nil, nil, interfaces.ErrMessageNotFound)
}

// do executes one bridge request. notFoundErr, when non-nil, is returned
// for a 404 response so callers get the sentinel instead of a status code.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, notFoundErr error) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound && notFoundErr != nil {
		return notFoundErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge request %s %s returned %d: %s", method, path, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode bridge response: %w", err)
		}
	}
	return nil
}
