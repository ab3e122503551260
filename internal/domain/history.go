package domain

import "time"

// Exchange pairs one user message with the assistant response that
// answered it, timestamped at the user message.
type Exchange struct {
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryRecord is the durable remote projection of a conversation plus
// session metadata. The record ID is server-assigned and distinct from
// the local conversation ID. Records are written once at session close
// and treated as immutable archive.
type HistoryRecord struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"userId"`
	Topic     string     `json:"topic"`
	Messages  []Exchange `json:"messages"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// RecordFromConversation builds the durable projection of a conversation
// for the given owner. Consecutive user/assistant turns collapse into
// exchanges; a user turn without a reply yields an exchange with an
// empty response. EndTime is left unset for still-active sessions.
func RecordFromConversation(userID string, c *Conversation, endTime *time.Time) HistoryRecord {
	rec := HistoryRecord{
		UserID:    userID,
		Topic:     c.Title,
		StartTime: c.CreatedAt,
		EndTime:   endTime,
	}

	var open *Exchange
	for _, t := range c.Turns {
		switch t.Sender {
		case SenderUser:
			if open != nil {
				rec.Messages = append(rec.Messages, *open)
			}
			open = &Exchange{Message: t.Text, Timestamp: t.CreatedAt}
		case SenderAssistant:
			if open == nil {
				// Reply with no recorded question; keep it rather than drop it.
				open = &Exchange{Timestamp: t.CreatedAt}
			}
			open.Response = t.Text
			rec.Messages = append(rec.Messages, *open)
			open = nil
		}
	}
	if open != nil {
		rec.Messages = append(rec.Messages, *open)
	}
	return rec
}
