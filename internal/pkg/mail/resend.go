package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// Resend delivers through the Resend HTTP API.
type Resend struct {
	cfg      Config
	client   *http.Client
	endpoint string
}

func NewResend(cfg Config, client *http.Client) *Resend {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Resend{cfg: cfg, client: client, endpoint: resendEndpoint}
}

func (r *Resend) Send(ctx context.Context, msg Message) error {
	if err := validate(ctx, msg); err != nil {
		return err
	}

	body := map[string]interface{}{
		"from":    r.cfg.sender(),
		"to":      []string{msg.To},
		"subject": msg.Subject,
	}
	if msg.HTML != "" {
		body["html"] = msg.HTML
	}
	if msg.Text != "" {
		body["text"] = msg.Text
	}
	if r.cfg.ReplyTo != "" {
		body["reply_to"] = r.cfg.ReplyTo
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.ResendKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("resend error %d: %s", resp.StatusCode, errResp.Message)
	}
	return nil
}
