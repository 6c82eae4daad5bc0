package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RESTClient talks to the chat platform's HTTP API with a shared token and a
// client-side rate limiter. Interventions are single-shot; the limiter only
// smooths request pacing, it never retries.
type RESTClient struct {
	baseURL    string
	token      string
	botUserID  string
	httpClient *http.Client
	limiter    *rate.Limiter

	// dmChannels caches user -> DM channel resolution so repeated warnings
	// to the same user cost one extra request total, not one per warning.
	// Verdicts execute on independent goroutines, so access is locked.
	dmMu       sync.Mutex
	dmChannels map[string]string
}

// NewRESTClient creates a platform client. rps bounds sustained request rate;
// bursts of up to 5 are allowed, matching typical chat-platform buckets.
func NewRESTClient(baseURL, token, botUserID string, rps float64) *RESTClient {
	if rps <= 0 {
		rps = 5
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		botUserID:  botUserID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 5),
		dmChannels: make(map[string]string),
	}
}

// BotUserID returns the identity the client acts as.
func (c *RESTClient) BotUserID() string {
	return c.botUserID
}

func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *RESTClient) TimeoutMember(ctx context.Context, communityID, userID string, duration time.Duration, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", communityID, userID)
	until := time.Now().UTC().Add(duration).Format(time.RFC3339)
	payload := map[string]any{
		"communication_disabled_until": until,
		"reason":                       reason,
	}
	return c.do(ctx, http.MethodPatch, path, payload, nil)
}

func (c *RESTClient) KickMember(ctx context.Context, communityID, userID, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s?reason=%s", communityID, userID, url.QueryEscape(reason))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *RESTClient) BanMember(ctx context.Context, communityID, userID, reason string, pruneDays int) error {
	path := fmt.Sprintf("/guilds/%s/bans/%s", communityID, userID)
	payload := map[string]any{
		"delete_message_days": pruneDays,
		"reason":              reason,
	}
	return c.do(ctx, http.MethodPut, path, payload, nil)
}

func (c *RESTClient) SendMessage(ctx context.Context, channelID, content string, replyToMessageID *string) (*MessageRef, error) {
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	payload := map[string]any{"content": content}
	if replyToMessageID != nil && *replyToMessageID != "" {
		payload["message_reference"] = map[string]any{"message_id": *replyToMessageID}
	}

	var out struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}
	return &MessageRef{MessageID: out.ID, ChannelID: out.ChannelID}, nil
}

func (c *RESTClient) CreateThread(ctx context.Context, channelID, messageID, name string) (*ThreadRef, error) {
	path := fmt.Sprintf("/channels/%s/messages/%s/threads", channelID, messageID)
	payload := map[string]any{"name": name}

	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}
	return &ThreadRef{ThreadID: out.ID, Name: out.Name}, nil
}

func (c *RESTClient) SendDirectMessage(ctx context.Context, userID, content string) error {
	channelID, err := c.dmChannelFor(ctx, userID)
	if err != nil {
		return err
	}

	_, err = c.SendMessage(ctx, channelID, content, nil)
	return err
}

func (c *RESTClient) dmChannelFor(ctx context.Context, userID string) (string, error) {
	c.dmMu.Lock()
	channelID, ok := c.dmChannels[userID]
	c.dmMu.Unlock()
	if ok {
		return channelID, nil
	}

	var out struct {
		ID string `json:"id"`
	}
	payload := map[string]any{"recipient_id": userID}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", payload, &out); err != nil {
		return "", fmt.Errorf("open DM channel: %w", err)
	}

	c.dmMu.Lock()
	c.dmChannels[userID] = out.ID
	c.dmMu.Unlock()
	return out.ID, nil
}

func (c *RESTClient) FetchRecentHistory(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", channelID, limit)

	var raw []struct {
		ID     string `json:"id"`
		Author struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Bot      bool   `json:"bot"`
		} `json:"author"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, Message{
			ID:         m.ID,
			ChannelID:  channelID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			AuthorBot:  m.Author.Bot,
			Content:    m.Content,
			CreatedAt:  m.Timestamp,
		})
	}
	return msgs, nil
}

// do performs one rate-limited request and decodes the response into out
// when out is non-nil.
func (c *RESTClient) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ModGPT-Bot")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrForbidden, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		log.Warn().Int("status", resp.StatusCode).Str("method", method).Str("path", path).
			Msg("platform API error")
		return fmt.Errorf("platform API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
