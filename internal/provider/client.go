// Package provider holds the completion provider clients: the message
// dispatcher that turns a user turn into a model reply, and the model
// catalog client that lists the identifiers a session may select from.
//
// The provider speaks an OpenAI-compatible HTTP API (Groq by default).
// Failures are normalized into the closed DispatchError / CatalogError
// taxonomy at the network boundary.
package provider

import (
	"context"

	"github.com/soyeahso/chatstudio/internal/domain"
)

// Message is a single turn as sent to the completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DispatchRequest is the input to a single dispatch: the accumulated
// prior turns, the new user text, the selected model, and an optional
// attachment whose bytes travel alongside the text.
type DispatchRequest struct {
	Model      string
	Prior      []Message
	Text       string
	Attachment *domain.Attachment
}

// Client is the interface the conversation controller dispatches through.
// Implementations do not retry internally; retry policy belongs to the
// caller.
type Client interface {
	// Dispatch performs one request/response cycle and returns the reply
	// text. Errors are always *DispatchError.
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)

	// ListModels fetches the current model catalog. Errors are always
	// *CatalogError.
	ListModels(ctx context.Context) ([]string, error)

	// Name returns the provider name (e.g. "groq").
	Name() string
}

// MessagesFromTurns maps conversation turns to provider messages.
// Attachment-only turns keep their (possibly empty) text; the attachment
// bytes are carried separately by the dispatch itself.
func MessagesFromTurns(turns []domain.Turn) []Message {
	msgs := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Sender == domain.SenderAssistant {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	return msgs
}
