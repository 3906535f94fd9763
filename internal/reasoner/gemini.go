// Package reasoner provides the LLM clients behind the planning and
// reflection prompts.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ouroboros/internal/config"
	"ouroboros/internal/logging"
	"ouroboros/internal/types"
)

const minRequestGap = 100 * time.Millisecond

// GeminiClient talks to the Gemini generateContent REST API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	retries    int
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGemini creates a client from the reasoner config section.
func NewGemini(cfg config.ReasonerConfig, apiKey string) *GeminiClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = config.Default().Reasoner.Model
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = config.Default().Reasoner.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.Default().Reasoner.Timeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		retries:    retries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText sends the prompt and returns the concatenated candidate text.
// Rate limits and transport errors are retried with exponential backoff;
// other API errors fail immediately.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		logging.APIError("GenerateText: API key not configured")
		return "", &types.ReasonerError{Op: "generate", Err: fmt.Errorf("API key not configured")}
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	start := time.Now()
	logging.APIDebug("GenerateText: model=%s prompt_len=%d", c.model, len(prompt))

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", &types.ReasonerError{Op: "encode", Err: err}
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", &types.ReasonerError{Op: "generate", Err: ctx.Err()}
			}
		}

		text, retryable, err := c.doRequest(ctx, url, body)
		if err == nil {
			logging.API("GenerateText: completed in %v response_len=%d", time.Since(start), len(text))
			return text, nil
		}
		if !retryable {
			logging.APIError("GenerateText: %v", err)
			return "", &types.ReasonerError{Op: "generate", Err: err}
		}
		lastErr = err
	}

	logging.APIError("GenerateText: retries exhausted after %v: %v", time.Since(start), lastErr)
	return "", &types.ReasonerError{Op: "generate", Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

func (c *GeminiClient) doRequest(ctx context.Context, url string, body []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("rate limit exceeded (429)")
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("server error %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", false, fmt.Errorf("no completion returned")
	}

	var out strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return strings.TrimSpace(out.String()), false, nil
}
