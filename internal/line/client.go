// Package line provides a client for the LINE Messaging API: replying to
// webhook events and downloading message content (media attachments).
//
// Replies are addressed by the single-use reply token carried on each webhook
// event. Message content lives on a separate API host (api-data.line.me) and
// is streamed; callers own the returned body.
//
// The client requires a long-lived channel access token issued in the LINE
// Developers console.
package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultBaseURL is the LINE Messaging API base URL.
	defaultBaseURL = "https://api.line.me"

	// defaultDataBaseURL is the API host serving message content downloads.
	defaultDataBaseURL = "https://api-data.line.me"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second
)

// Client provides methods for replying to users and downloading media via
// the LINE Messaging API.
type Client struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string
	dataBaseURL string
}

// NewClient creates a LINE Messaging API client using the given channel
// access token.
func NewClient(accessToken string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		dataBaseURL: defaultDataBaseURL,
	}
}

// --- API request/response types ---

type replyRequest struct {
	ReplyToken string         `json:"replyToken"`
	Messages   []replyMessage `json:"messages"`
}

type replyMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Message string `json:"message"`
}

// --- Replies ---

// Reply sends a single text message back to the user identified by the
// reply token. The token is single-use; a second reply with the same token
// fails on LINE's side.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	payload := replyRequest{
		ReplyToken: replyToken,
		Messages:   []replyMessage{{Type: "text", Text: text}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reply request: %w", err)
	}
	defer resp.Body.Close()

	log.Debug().
		Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("LINE reply response")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reply: %w", c.apiErrorFrom(resp))
	}
	return nil
}

// --- Message content ---

// Content downloads the media attached to a message by its message ID.
// The caller must close the returned body. The body is the raw media byte
// stream (for image messages, JPEG).
func (c *Client) Content(ctx context.Context, messageID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataBaseURL, messageID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("content %s: %w", messageID, c.apiErrorFrom(resp))
	}

	return resp.Body, nil
}

// apiErrorFrom turns a non-2xx response into an error carrying the API error
// message when the body parses, or a truncated body snippet when it does not.
func (c *Client) apiErrorFrom(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("status %d (unreadable body)", resp.StatusCode)
	}

	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("status %d (body: %s)", resp.StatusCode, truncate(string(body), 200))
}

// --- Signature verification ---

// ValidateSignature validates the X-Line-Signature header value against the
// HMAC-SHA256 of the body using the channel secret. The header carries the
// base64-encoded digest.
//
// Uses hmac.Equal for constant-time comparison.
func ValidateSignature(channelSecret string, body []byte, header string) bool {
	received, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
