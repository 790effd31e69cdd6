// Package botapi implements transport.Replier over the Telegram-style bot
// HTTP API.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/orzlee/jdbot/internal/transport"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResp struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

func (c *Client) url(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.Token, method)
}

func (c *Client) call(ctx context.Context, method string, body io.Reader, contentType string) (json.RawMessage, error) {
	if c.HTTP == nil {
		return nil, errors.New("botapi: http client is nil")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(method), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("botapi %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("botapi %s: decode response: %w", method, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("botapi %s: %s", method, out.Description)
	}
	return out.Result, nil
}

func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	b, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "sendMessage", bytes.NewReader(b), "application/json")
	return err
}

func (c *Client) SendImage(ctx context.Context, chatID string, png []byte, caption string) (transport.MessageRef, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return transport.MessageRef{}, err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return transport.MessageRef{}, err
		}
	}
	part, err := w.CreateFormFile("photo", "qr.png")
	if err != nil {
		return transport.MessageRef{}, err
	}
	if _, err := part.Write(png); err != nil {
		return transport.MessageRef{}, err
	}
	if err := w.Close(); err != nil {
		return transport.MessageRef{}, err
	}

	raw, err := c.call(ctx, "sendPhoto", &buf, w.FormDataContentType())
	if err != nil {
		return transport.MessageRef{}, err
	}

	var msg sentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return transport.MessageRef{}, fmt.Errorf("botapi sendPhoto: decode result: %w", err)
	}
	return transport.MessageRef{ChatID: chatID, MessageID: msg.MessageID}, nil
}

func (c *Client) Retract(ctx context.Context, ref transport.MessageRef) error {
	b, err := json.Marshal(map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "deleteMessage", bytes.NewReader(b), "application/json")
	return err
}
