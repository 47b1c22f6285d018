package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackClient posts lead summaries to a Slack channel.
type SlackClient struct {
	Token   string
	Channel string
	BaseURL string
	HTTP    *http.Client
}

func (c *SlackClient) Notify(ctx context.Context, n Notification) error {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	if c.Token == "" {
		return fmt.Errorf("missing slack token")
	}
	if c.Channel == "" {
		return fmt.Errorf("missing slack channel")
	}

	body, err := json.Marshal(map[string]any{
		"channel": c.Channel,
		"text":    "*" + Subject(n.Record) + "*\n```" + Body(n) + "```",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("slack post for %s: %w", n.Record.LeadID, err)
	}
	defer res.Body.Close()

	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("slack response: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "slack api error"
		}
		return fmt.Errorf("slack post for %s: %s", n.Record.LeadID, resp.Error)
	}
	return nil
}
