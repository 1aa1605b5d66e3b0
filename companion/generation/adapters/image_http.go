package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

// HTTPImageSynthesizer calls an images/generations style endpoint that answers
// with base64 encoded PNG data.
type HTTPImageSynthesizer struct {
	endpoint string
	apiKey   string
	model    string
	size     string
	client   *http.Client
}

func NewHTTPImageSynthesizer(endpoint, apiKey, model, size string, timeout time.Duration) *HTTPImageSynthesizer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPImageSynthesizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		size:     size,
		client:   &http.Client{Timeout: timeout},
	}
}

type imageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *HTTPImageSynthesizer) Synthesize(ctx context.Context, prompt string) (ports.Image, error) {
	if s.endpoint == "" {
		return ports.Image{}, fmt.Errorf("image endpoint is not configured")
	}
	body, err := json.Marshal(imageRequest{Model: s.model, Prompt: prompt, Size: s.size, N: 1, ResponseFormat: "b64_json"})
	if err != nil {
		return ports.Image{}, fmt.Errorf("encode image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Image{}, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ports.Image{}, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return ports.Image{}, fmt.Errorf("read image response: %w", err)
	}
	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ports.Image{}, fmt.Errorf("decode image response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return ports.Image{}, fmt.Errorf("image backend returned %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return ports.Image{}, fmt.Errorf("image backend returned no data")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return ports.Image{}, fmt.Errorf("decode image payload: %w", err)
	}
	return ports.Image{Data: data, MIMEType: "image/png", RevisedPrompt: parsed.Data[0].RevisedPrompt}, nil
}

var _ ports.ImageSynthesizer = (*HTTPImageSynthesizer)(nil)
