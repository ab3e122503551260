package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soyeahso/chatstudio/internal/logging"
)

// GroqClient is a direct HTTP client for an OpenAI-compatible completion
// API.
type GroqClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logging.Logger
}

// NewGroqClient creates a provider client against the given base URL
// (e.g. https://api.groq.com/openai/v1).
func NewGroqClient(baseURL, apiKey string, timeout time.Duration, log *logging.Logger) *GroqClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GroqClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.Sub("provider.groq"),
	}
}

// Name returns the provider name.
func (c *GroqClient) Name() string { return "groq" }

// Dispatch sends one completion request and returns the reply text.
func (c *GroqClient) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	messages := append(append([]Message{}, req.Prior...), Message{Role: "user", Content: req.Text})

	var httpReq *http.Request
	var err error
	if req.Attachment != nil {
		httpReq, err = c.buildMultipartRequest(ctx, req.Model, messages, req.Attachment.Path)
	} else {
		httpReq, err = c.buildJSONRequest(ctx, req.Model, messages)
	}
	if err != nil {
		// The request never left the process (unreadable attachment,
		// unencodable payload), so this is not a transport failure.
		return "", &DispatchError{Kind: DispatchProviderError, Message: "building request: " + err.Error()}
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &DispatchError{Kind: DispatchNetworkFailure, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &DispatchError{Kind: DispatchNetworkFailure, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", normalizeDispatchFailure(resp.StatusCode, body)
	}

	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &DispatchError{
			Kind:    DispatchEmptyResponse,
			Status:  resp.StatusCode,
			Message: "unparseable completion response: " + err.Error(),
		}
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", &DispatchError{
			Kind:    DispatchEmptyResponse,
			Status:  resp.StatusCode,
			Message: "provider returned no usable content",
		}
	}

	c.log.Debug().
		Str("model", req.Model).
		Int("messages", len(messages)).
		Dur("duration", time.Since(start)).
		Msg("dispatch completed")

	return result.Choices[0].Message.Content, nil
}

// ListModels fetches the model catalog.
func (c *GroqClient) ListModels(ctx context.Context) ([]string, error) {
	if c.apiKey == "" {
		return nil, &CatalogError{Kind: CatalogUnauthenticated, Message: "provider API key is not set"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, &CatalogError{Kind: CatalogUnavailable, Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &CatalogError{Kind: CatalogUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CatalogError{Kind: CatalogUnavailable, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &CatalogError{
			Kind:    CatalogUnauthenticated,
			Status:  resp.StatusCode,
			Message: providerErrorMessage(body),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &CatalogError{
			Kind:    CatalogUnavailable,
			Status:  resp.StatusCode,
			Message: providerErrorMessage(body),
		}
	}

	var result modelListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &CatalogError{
			Kind:    CatalogUnavailable,
			Status:  resp.StatusCode,
			Message: "unparseable model list: " + err.Error(),
		}
	}

	ids := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}

	c.log.Debug().Int("models", len(ids)).Msg("catalog fetched")
	return ids, nil
}

func (c *GroqClient) buildJSONRequest(ctx context.Context, model string, messages []Message) (*http.Request, error) {
	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

// buildMultipartRequest attaches the file's bytes alongside the message
// payload. Whether the provider accepts the file is its call; a
// rejection comes back as a non-success status and normalizes to
// DispatchProviderError.
func (c *GroqClient) buildMultipartRequest(ctx context.Context, model string, messages []Message, filePath string) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("model", model); err != nil {
		return nil, err
	}
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	if err := mw.WriteField("messages", string(msgJSON)); err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

// normalizeDispatchFailure maps a non-success provider response onto the
// dispatch taxonomy.
func normalizeDispatchFailure(status int, body []byte) *DispatchError {
	msg := providerErrorMessage(body)
	code := providerErrorCode(body)

	if status == http.StatusNotFound ||
		code == "model_not_found" || code == "model_decommissioned" {
		return &DispatchError{Kind: DispatchInvalidModel, Status: status, Message: msg}
	}

	return &DispatchError{Kind: DispatchProviderError, Status: status, Message: msg}
}

// Provider wire structures.

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type providerErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func providerErrorMessage(body []byte) string {
	var eb providerErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "provider request failed"
	}
	return s
}

func providerErrorCode(body []byte) string {
	var eb providerErrorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		return eb.Error.Code
	}
	return ""
}
