package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// titleMaxLen caps derived conversation titles.
const titleMaxLen = 30

// Attachment is an opaque file reference supplied by the upload side.
// The conversation pipeline never inspects the bytes, only forwards the
// reference to the dispatcher.
type Attachment struct {
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Turn is one message in a conversation. Turns are immutable once
// appended; Text may be empty only when an attachment is present.
type Turn struct {
	Text       string      `json:"text"`
	Sender     Sender      `json:"sender"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Conversation is an append-only sequence of turns with a stable identity.
// The turn order is the dialogue order.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewConversation creates a conversation titled after the first user turn.
// The title is fixed at creation and never recomputed.
func NewConversation(first Turn) *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		Title:     DeriveTitle(first),
		Turns:     []Turn{first},
		CreatedAt: first.CreatedAt,
	}
}

// DeriveTitle computes a conversation title from its opening turn: the
// text truncated to 30 characters, falling back to the attachment
// filename for attachment-only turns.
func DeriveTitle(first Turn) string {
	title := first.Text
	if title == "" && first.Attachment != nil {
		title = first.Attachment.Filename
	}
	runes := []rune(title)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen])
	}
	return title
}

// Append adds a turn to the conversation.
func (c *Conversation) Append(t Turn) {
	c.Turns = append(c.Turns, t)
}

// LastTurn returns the most recent turn, or a zero Turn for an empty
// conversation.
func (c *Conversation) LastTurn() Turn {
	if len(c.Turns) == 0 {
		return Turn{}
	}
	return c.Turns[len(c.Turns)-1]
}
