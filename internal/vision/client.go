// Package vision sends a captured JPEG and a prompt to a vision-capable
// language model and returns its textual answer.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cjeanneret/camask/internal/debug"
	apperrors "github.com/cjeanneret/camask/internal/errors"
	"github.com/cjeanneret/camask/internal/idgen"
)

// Analyzer answers a prompt about one JPEG image.
type Analyzer interface {
	Analyze(ctx context.Context, jpeg []byte, prompt string) (string, error)
}

// Config configures a Client.
type Config struct {
	Endpoint      string // full Messages API URL
	APIKey        string
	Model         string
	APIVersion    string
	MaxTokens     int
	Timeout       time.Duration
	DefaultPrompt string // used when the caller's prompt is blank
}

// Client implements Analyzer over the Anthropic Messages API.
type Client struct {
	cfg    Config
	client *http.Client
	newID  idgen.Generator
}

// NewClient creates a client. The HTTP timeout bounds one whole exchange.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		newID:  idgen.NewRequest,
	}
}

// messagesRequest is the JSON body sent to the Messages endpoint.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// messagesResponse keeps only the fields the client reads.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze sends image and prompt in one user message. A blank prompt is
// replaced by DefaultPrompt. The image must be a JPEG.
func (c *Client) Analyze(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) < 2 || image[0] != 0xFF || image[1] != 0xD8 {
		return "", apperrors.NewAnalysisError("image is not a JPEG", nil)
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", apperrors.NewAnalysisError("no API key configured", nil)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = c.cfg.DefaultPrompt
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: "image/jpeg",
						Data:      base64.StdEncoding.EncodeToString(image),
					},
				},
				{Type: "text", Text: prompt},
			},
		}},
	})
	if err != nil {
		return "", apperrors.NewAnalysisError("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewAnalysisError("build request", err)
	}
	reqID := c.newID()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", c.cfg.APIVersion)
	req.Header.Set("X-Request-Id", reqID)

	debug.WithFields(debug.Fields{
		"request": reqID,
		"model":   c.cfg.Model,
		"bytes":   len(image),
	}).Info("vision request")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.NewAnalysisError("vision request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewAnalysisError(statusMessage(resp), nil)
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.NewAnalysisError("decode response", err)
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", apperrors.NewAnalysisError("empty response from vision model", nil)
	}
	debug.Info("Vision: %d characters (stop=%s)", len(text), result.StopReason)
	return text, nil
}

// statusMessage turns a non-2xx response into one readable line.
func statusMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		return fmt.Sprintf("vision API %d (%s): %s", resp.StatusCode, er.Error.Type, er.Error.Message)
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		if len(s) > 200 {
			s = s[:200]
		}
		return fmt.Sprintf("vision API %d: %s", resp.StatusCode, s)
	}
	return fmt.Sprintf("vision API %d", resp.StatusCode)
}
