// Package chat orchestrates a client chat session: it owns the active
// conversation, dispatches turns to the completion provider, and archives
// finished conversations to the history repository.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/history"
	"github.com/soyeahso/chatstudio/internal/logging"
	"github.com/soyeahso/chatstudio/internal/provider"
	"github.com/soyeahso/chatstudio/internal/store"
)

// FailureNotice is the transcript entry for a failed dispatch. The typed
// error travels separately in the SendResult.
const FailureNotice = "Something went wrong. Please try again."

// State is the session's user-visible phase.
type State string

const (
	// StateCatalogLoading means the model catalog has not been fetched yet.
	StateCatalogLoading State = "catalog_loading"
	// StateCatalogFailed means the last catalog fetch failed; sends are
	// blocked until a retry succeeds.
	StateCatalogFailed State = "catalog_failed"
	// StateComposing means the session is ready for input.
	StateComposing State = "composing"
	// StateSending means at least one dispatch is in flight.
	StateSending State = "sending"
)

var (
	// ErrCatalogNotReady is returned by SendTurn before a successful
	// catalog fetch.
	ErrCatalogNotReady = errors.New("model catalog not loaded")
	// ErrEmptyTurn is returned when a send carries neither text nor an
	// attachment.
	ErrEmptyTurn = errors.New("turn requires text or an attachment")
	// ErrConversationNotFound is returned when selecting an id that is not
	// in the local store.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMissingUserID is returned by CloseSession when no user id is
	// configured. Uploads cannot be attributed without one.
	ErrMissingUserID = errors.New("no user id configured")
)

// SendResult is the resolution of one dispatch. Err is nil on success and
// a *provider.DispatchError otherwise; either way the transcript already
// holds the matching assistant turn by the time the result is delivered.
type SendResult struct {
	ConversationID string
	Reply          string
	Err            error
}

// Controller is the session orchestrator. Replies resolve against the
// conversation id captured at dispatch time, so racing sends and
// conversation switches never cross-wire transcripts.
type Controller struct {
	provider provider.Client
	store    *store.Store
	history  history.Repository
	userID   string
	log      *logging.Logger

	mu            sync.Mutex
	models        []string
	model         string
	catalogFailed bool
	sending       int
	uploaded      map[string]bool
}

// New creates a session controller. userID may be empty; it is only
// required once CloseSession uploads records.
func New(p provider.Client, st *store.Store, repo history.Repository, userID string, log *logging.Logger) *Controller {
	return &Controller{
		provider: p,
		store:    st,
		history:  repo,
		userID:   userID,
		log:      log.Sub("chat"),
		uploaded: make(map[string]bool),
	}
}

// State reports the session phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.sending > 0:
		return StateSending
	case len(c.models) > 0:
		return StateComposing
	case c.catalogFailed:
		return StateCatalogFailed
	default:
		return StateCatalogLoading
	}
}

// LoadCatalog fetches the model catalog. Sends stay blocked until one call
// succeeds with a non-empty list. Safe to call again after a failure.
func (c *Controller) LoadCatalog(ctx context.Context, preferred string) error {
	models, err := c.provider.ListModels(ctx)
	if err != nil {
		c.setCatalogFailed()
		c.log.Warn().Err(err).Str("provider", c.provider.Name()).Msg("catalog fetch failed")
		return err
	}
	if len(models) == 0 {
		c.setCatalogFailed()
		return &provider.CatalogError{Kind: provider.CatalogUnavailable, Message: "provider returned an empty model catalog"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogFailed = false
	c.models = models
	c.model = models[0]
	if preferred != "" {
		for _, m := range models {
			if m == preferred {
				c.model = preferred
				break
			}
		}
	}
	c.log.Info().
		Str("provider", c.provider.Name()).
		Int("models", len(models)).
		Str("selected", c.model).
		Msg("catalog loaded")
	return nil
}

func (c *Controller) setCatalogFailed() {
	c.mu.Lock()
	c.catalogFailed = true
	c.mu.Unlock()
}

// Models returns the catalog from the last successful fetch.
func (c *Controller) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.models))
	copy(out, c.models)
	return out
}

// Model returns the currently selected model id.
func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel switches the selected model. The id must come from the catalog.
func (c *Controller) SetModel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.models) == 0 {
		return ErrCatalogNotReady
	}
	for _, m := range c.models {
		if m == id {
			c.model = id
			return nil
		}
	}
	return &provider.DispatchError{
		Kind:    provider.DispatchInvalidModel,
		Message: fmt.Sprintf("model %q is not in the catalog", id),
	}
}

// SendTurn appends the user turn to the active conversation (creating one
// when none is active) and dispatches it. The user turn is in the store
// before SendTurn returns and is never rolled back; the assistant turn —
// reply or failure notice — lands when the returned channel delivers.
//
// Concurrent SendTurn calls are allowed. Replies may resolve out of send
// order; each resolves against the conversation id captured here.
func (c *Controller) SendTurn(ctx context.Context, text string, att *domain.Attachment) (<-chan SendResult, error) {
	if text == "" && att == nil {
		return nil, ErrEmptyTurn
	}
	if att != nil {
		// Catch unreadable attachments before anything is appended, so a
		// typo'd path does not leave a dangling user turn behind.
		if _, err := os.Stat(att.Path); err != nil {
			return nil, fmt.Errorf("attachment %s: %w", att.Path, err)
		}
	}

	c.mu.Lock()
	if len(c.models) == 0 {
		c.mu.Unlock()
		return nil, ErrCatalogNotReady
	}
	model := c.model
	c.sending++
	c.mu.Unlock()

	userTurn := domain.Turn{
		Text:       text,
		Sender:     domain.SenderUser,
		Attachment: att,
		CreatedAt:  time.Now().UTC(),
	}

	var convID string
	var prior []provider.Message
	if active := c.store.Active(); active != nil {
		prior = provider.MessagesFromTurns(c.store.Turns(active.ID))
		c.store.AppendTurn(active.ID, userTurn)
		convID = active.ID
	} else {
		conv := domain.NewConversation(userTurn)
		c.store.SetActive(conv)
		convID = conv.ID
	}

	req := provider.DispatchRequest{
		Model:      model,
		Prior:      prior,
		Text:       text,
		Attachment: att,
	}

	done := make(chan SendResult, 1)
	go c.dispatch(ctx, convID, req, done)
	return done, nil
}

func (c *Controller) dispatch(ctx context.Context, convID string, req provider.DispatchRequest, done chan<- SendResult) {
	defer func() {
		c.mu.Lock()
		c.sending--
		c.mu.Unlock()
	}()

	reply, err := c.provider.Dispatch(ctx, req)

	turn := domain.Turn{Sender: domain.SenderAssistant, CreatedAt: time.Now().UTC()}
	if err != nil {
		turn.Text = FailureNotice
		c.log.Warn().
			Err(err).
			Str("provider", c.provider.Name()).
			Str("conversation", convID).
			Msg("dispatch failed")
	} else {
		turn.Text = reply
	}

	// The conversation may have been archived, switched away from, or
	// deleted while the dispatch was in flight. Archived is fine; deleted
	// means the reply has nowhere to go.
	if !c.store.AppendTurn(convID, turn) {
		c.log.Warn().Str("conversation", convID).Msg("discarding reply for deleted conversation")
	}

	done <- SendResult{ConversationID: convID, Reply: reply, Err: err}
}

// NewConversation archives the active conversation (dropped if it has no
// turns) and clears the active slot. No network call.
func (c *Controller) NewConversation() {
	c.store.Archive()
}

// SelectConversation makes an archived conversation active, archiving the
// previous active one.
func (c *Controller) SelectConversation(id string) error {
	if !c.store.Select(id) {
		return ErrConversationNotFound
	}
	return nil
}

// Active returns the active conversation, or nil.
func (c *Controller) Active() *domain.Conversation {
	return c.store.Active()
}

// Conversations lists archived conversations, most recently archived first.
func (c *Controller) Conversations() []*domain.Conversation {
	return c.store.Archived()
}

// DeleteConversation removes a conversation from the local store.
func (c *Controller) DeleteConversation(id string) error {
	if !c.store.Delete(id) {
		return ErrConversationNotFound
	}
	return nil
}

// CloseSession archives the active conversation and uploads every local
// conversation not yet uploaded as a history record with the close time as
// endTime. Upload failures do not abort the remaining uploads.
func (c *Controller) CloseSession(ctx context.Context) error {
	if c.userID == "" {
		return ErrMissingUserID
	}

	c.store.Archive()
	end := time.Now().UTC()

	var errs []error
	for _, conv := range c.store.Archived() {
		c.mu.Lock()
		done := c.uploaded[conv.ID]
		c.mu.Unlock()
		// A late reply from an in-flight dispatch may still land on this
		// conversation, so read the turns through the store lock.
		turns := c.store.Turns(conv.ID)
		if done || len(turns) == 0 {
			continue
		}

		snap := *conv
		snap.Turns = turns
		rec := domain.RecordFromConversation(c.userID, &snap, &end)
		created, err := c.history.Create(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("uploading %q: %w", conv.Title, err))
			continue
		}

		c.mu.Lock()
		c.uploaded[conv.ID] = true
		c.mu.Unlock()
		c.log.Info().Str("conversation", conv.ID).Str("record", created.ID).Msg("conversation uploaded")
	}
	return errors.Join(errs...)
}
