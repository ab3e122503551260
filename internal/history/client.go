package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/logging"
)

// APIError is a domain failure reported by the remote history API.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("history api: %s: %s", e.Code, e.Message)
}

// Client implements Repository against a remote history API instance.
// The envelope's success flag is authoritative; HTTP status codes are
// not read for success/failure.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewClient creates a history API client against the given base URL.
func NewClient(baseURL string, log *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.Sub("history.client"),
	}
}

func (c *Client) Create(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("encoding record: %w", err)
	}

	var created domain.HistoryRecord
	if err := c.do(ctx, http.MethodPost, "/api/chatHistory", bytes.NewReader(payload), &created); err != nil {
		return domain.HistoryRecord{}, err
	}
	c.log.Info().Str("id", created.ID).Str("topic", created.Topic).Msg("record uploaded")
	return created, nil
}

func (c *Client) Get(ctx context.Context, id string) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	if err := c.do(ctx, http.MethodGet, "/api/chatHistory/"+id, nil, &rec); err != nil {
		return domain.HistoryRecord{}, err
	}
	return rec, nil
}

func (c *Client) List(ctx context.Context) ([]domain.HistoryRecord, error) {
	var recs []domain.HistoryRecord
	if err := c.do(ctx, http.MethodGet, "/api/chatHistory", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) Delete(ctx context.Context, id string) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	if err := c.do(ctx, http.MethodDelete, "/api/chatHistory/"+id, nil, &rec); err != nil {
		return domain.HistoryRecord{}, err
	}
	return rec, nil
}

// do performs one request and decodes the envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: unparseable response: %v", ErrUnavailable, err)
	}

	if !env.Success {
		if env.Error == nil {
			return &APIError{Code: codeInternal, Message: "request failed"}
		}
		if env.Error.Code == codeNotFound {
			return ErrNotFound
		}
		return &APIError{Code: env.Error.Code, Message: env.Error.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
	}
	return nil
}
