package chat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/logging"
	"github.com/soyeahso/chatstudio/internal/provider"
	"github.com/soyeahso/chatstudio/internal/store"
)

// memRepo is an in-memory history.Repository for controller tests.
type memRepo struct {
	mu      sync.Mutex
	records []domain.HistoryRecord
	fail    error
}

func (r *memRepo) Create(ctx context.Context, rec domain.HistoryRecord) (domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return domain.HistoryRecord{}, r.fail
	}
	rec.ID = fmt.Sprintf("rec-%d", len(r.records)+1)
	r.records = append(r.records, rec)
	return rec, nil
}

func (r *memRepo) Get(ctx context.Context, id string) (domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.HistoryRecord{}, errors.New("not found")
}

func (r *memRepo) List(ctx context.Context) ([]domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.HistoryRecord(nil), r.records...), nil
}

func (r *memRepo) Delete(ctx context.Context, id string) (domain.HistoryRecord, error) {
	return domain.HistoryRecord{}, errors.New("not found")
}

func testController(t *testing.T, p provider.Client, userID string) (*Controller, *memRepo) {
	t.Helper()
	log := logging.New(nil, "silent")
	st := store.New(store.NewMemorySnapshot(), log)
	repo := &memRepo{}
	return New(p, st, repo, userID, log), repo
}

func readyController(t *testing.T, p provider.Client) (*Controller, *memRepo) {
	t.Helper()
	c, repo := testController(t, p, "user-1")
	require.NoError(t, c.LoadCatalog(context.Background(), ""))
	return c, repo
}

func TestSendBlockedBeforeCatalog(t *testing.T) {
	c, _ := testController(t, &provider.MockClient{}, "user-1")

	assert.Equal(t, StateCatalogLoading, c.State())
	_, err := c.SendTurn(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrCatalogNotReady)
}

func TestCatalogRetryAfterFailure(t *testing.T) {
	calls := 0
	p := &provider.MockClient{
		ListModelsFunc: func(ctx context.Context) ([]string, error) {
			calls++
			if calls == 1 {
				return nil, &provider.CatalogError{Kind: provider.CatalogUnavailable, Message: "down"}
			}
			return []string{"m-1", "m-2"}, nil
		},
	}
	c, _ := testController(t, p, "user-1")

	err := c.LoadCatalog(context.Background(), "")
	var cerr *provider.CatalogError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, provider.CatalogUnavailable, cerr.Kind)
	assert.Equal(t, StateCatalogFailed, c.State())

	require.NoError(t, c.LoadCatalog(context.Background(), "m-2"))
	assert.Equal(t, StateComposing, c.State())
	assert.Equal(t, "m-2", c.Model())
	assert.Equal(t, []string{"m-1", "m-2"}, c.Models())
}

func TestCatalogUnauthenticatedBlocksSends(t *testing.T) {
	p := &provider.MockClient{
		ListModelsFunc: func(ctx context.Context) ([]string, error) {
			return nil, &provider.CatalogError{Kind: provider.CatalogUnauthenticated, Message: "bad key"}
		},
	}
	c, _ := testController(t, p, "user-1")

	require.Error(t, c.LoadCatalog(context.Background(), ""))
	assert.Equal(t, StateCatalogFailed, c.State())

	_, err := c.SendTurn(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrCatalogNotReady)
}

func TestEmptyCatalogIsUnavailable(t *testing.T) {
	p := &provider.MockClient{
		ListModelsFunc: func(ctx context.Context) ([]string, error) { return []string{}, nil },
	}
	c, _ := testController(t, p, "user-1")

	err := c.LoadCatalog(context.Background(), "")
	var cerr *provider.CatalogError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, provider.CatalogUnavailable, cerr.Kind)
}

func TestSetModelValidatesAgainstCatalog(t *testing.T) {
	c, _ := readyController(t, &provider.MockClient{
		ListModelsFunc: func(ctx context.Context) ([]string, error) { return []string{"m-1", "m-2"}, nil },
	})

	require.NoError(t, c.SetModel("m-2"))
	assert.Equal(t, "m-2", c.Model())

	err := c.SetModel("m-9")
	var derr *provider.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, provider.DispatchInvalidModel, derr.Kind)
	assert.Equal(t, "m-2", c.Model())
}

func TestSendTurnAppendsUserTurnBeforeDispatch(t *testing.T) {
	release := make(chan struct{})
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			<-release
			return "the reply", nil
		},
	}
	c, _ := readyController(t, p)

	done, err := c.SendTurn(context.Background(), "first question", nil)
	require.NoError(t, err)

	// The user turn is in the store before the dispatch resolves.
	active := c.Active()
	require.NotNil(t, active)
	require.Len(t, active.Turns, 1)
	assert.Equal(t, domain.SenderUser, active.Turns[0].Sender)
	assert.Equal(t, "first question", active.Turns[0].Text)
	assert.Equal(t, "first question", active.Title)
	assert.Equal(t, StateSending, c.State())

	close(release)
	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, "the reply", res.Reply)
	assert.Equal(t, active.ID, res.ConversationID)

	conv, ok := c.store.Get(active.ID)
	require.True(t, ok)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, domain.SenderAssistant, conv.Turns[1].Sender)
	assert.Equal(t, "the reply", conv.Turns[1].Text)
	assert.Equal(t, StateComposing, c.State())
}

func TestSendTurnReplaysFullHistory(t *testing.T) {
	var second provider.DispatchRequest
	calls := 0
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			calls++
			if calls == 2 {
				second = req
			}
			return fmt.Sprintf("reply %d", calls), nil
		},
	}
	c, _ := readyController(t, p)
	ctx := context.Background()

	done, err := c.SendTurn(ctx, "one", nil)
	require.NoError(t, err)
	<-done

	done, err = c.SendTurn(ctx, "two", nil)
	require.NoError(t, err)
	<-done

	require.Len(t, second.Prior, 2)
	assert.Equal(t, "user", second.Prior[0].Role)
	assert.Equal(t, "one", second.Prior[0].Content)
	assert.Equal(t, "assistant", second.Prior[1].Role)
	assert.Equal(t, "reply 1", second.Prior[1].Content)
	assert.Equal(t, "two", second.Text)
}

func TestSendTurnFailureAppendsNotice(t *testing.T) {
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			return "", &provider.DispatchError{Kind: provider.DispatchNetworkFailure, Message: "conn refused"}
		},
	}
	c, _ := readyController(t, p)

	done, err := c.SendTurn(context.Background(), "doomed", nil)
	require.NoError(t, err)
	res := <-done

	var derr *provider.DispatchError
	require.ErrorAs(t, res.Err, &derr)
	assert.Equal(t, provider.DispatchNetworkFailure, derr.Kind)

	// User turn retained, exactly one assistant turn carrying the notice.
	conv := c.Active()
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, "doomed", conv.Turns[0].Text)
	assert.Equal(t, domain.SenderAssistant, conv.Turns[1].Sender)
	assert.Equal(t, FailureNotice, conv.Turns[1].Text)
}

func TestSendTurnRequiresTextOrAttachment(t *testing.T) {
	c, _ := readyController(t, &provider.MockClient{})

	_, err := c.SendTurn(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyTurn)

	path := filepath.Join(t.TempDir(), "pic.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))

	att := &domain.Attachment{Path: path, Filename: "pic.png"}
	done, err := c.SendTurn(context.Background(), "", att)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.Err)

	conv := c.Active()
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, "pic.png", conv.Turns[0].Attachment.Filename)
	assert.Equal(t, "pic.png", conv.Title)
}

func TestSendTurnRejectsMissingAttachment(t *testing.T) {
	c, _ := readyController(t, &provider.MockClient{})

	att := &domain.Attachment{Path: filepath.Join(t.TempDir(), "gone.png"), Filename: "gone.png"}
	_, err := c.SendTurn(context.Background(), "look at this", att)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Nil(t, c.Active(), "nothing should be appended for a rejected send")
}

func TestReplyResolvesAgainstCapturedConversation(t *testing.T) {
	release := make(chan struct{})
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			<-release
			return "late reply", nil
		},
	}
	c, _ := readyController(t, p)
	ctx := context.Background()

	done, err := c.SendTurn(ctx, "original thread", nil)
	require.NoError(t, err)
	originalID := c.Active().ID

	// Switch threads while the dispatch is in flight.
	c.NewConversation()
	assert.Nil(t, c.Active())

	close(release)
	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, originalID, res.ConversationID)

	// The reply landed on the archived original, not the new active slot.
	original, ok := c.store.Get(originalID)
	require.True(t, ok)
	require.Len(t, original.Turns, 2)
	assert.Equal(t, "late reply", original.Turns[1].Text)
	assert.Nil(t, c.Active())
}

func TestReplyForDeletedConversationIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			<-release
			return "orphan reply", nil
		},
	}
	c, _ := readyController(t, p)
	ctx := context.Background()

	done, err := c.SendTurn(ctx, "short lived", nil)
	require.NoError(t, err)
	id := c.Active().ID

	c.NewConversation()
	require.NoError(t, c.DeleteConversation(id))

	close(release)
	res := <-done
	require.NoError(t, res.Err)

	_, ok := c.store.Get(id)
	assert.False(t, ok)
}

func TestRacingSendsBothResolve(t *testing.T) {
	var mu sync.Mutex
	started := 0
	release := make(chan struct{})
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			mu.Lock()
			started++
			n := started
			mu.Unlock()
			<-release
			return fmt.Sprintf("reply %d", n), nil
		},
	}
	c, _ := readyController(t, p)
	ctx := context.Background()

	first, err := c.SendTurn(ctx, "question A", nil)
	require.NoError(t, err)
	second, err := c.SendTurn(ctx, "question B", nil)
	require.NoError(t, err)
	assert.Equal(t, StateSending, c.State())

	close(release)
	resA := <-first
	resB := <-second
	require.NoError(t, resA.Err)
	require.NoError(t, resB.Err)

	// Both user turns and exactly one assistant turn per dispatch. Reply
	// ordering across racing sends is not guaranteed.
	conv := c.Active()
	require.Len(t, conv.Turns, 4)
	var users, assistants int
	for _, turn := range conv.Turns {
		switch turn.Sender {
		case domain.SenderUser:
			users++
		case domain.SenderAssistant:
			assistants++
		}
	}
	assert.Equal(t, 2, users)
	assert.Equal(t, 2, assistants)
	assert.Equal(t, StateComposing, c.State())
}

func TestSelectConversation(t *testing.T) {
	c, _ := readyController(t, &provider.MockClient{})
	ctx := context.Background()

	done, _ := c.SendTurn(ctx, "thread one", nil)
	<-done
	firstID := c.Active().ID
	c.NewConversation()

	done, _ = c.SendTurn(ctx, "thread two", nil)
	<-done

	require.NoError(t, c.SelectConversation(firstID))
	assert.Equal(t, firstID, c.Active().ID)

	assert.ErrorIs(t, c.SelectConversation("no-such-id"), ErrConversationNotFound)
}

func TestCloseSessionRequiresUserID(t *testing.T) {
	c, _ := testController(t, &provider.MockClient{}, "")
	require.NoError(t, c.LoadCatalog(context.Background(), ""))

	err := c.CloseSession(context.Background())
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestCloseSessionUploadsOnce(t *testing.T) {
	c, repo := readyController(t, &provider.MockClient{})
	ctx := context.Background()

	done, _ := c.SendTurn(ctx, "what is the plan", nil)
	<-done
	c.NewConversation()
	done, _ = c.SendTurn(ctx, "second thread", nil)
	<-done

	require.NoError(t, c.CloseSession(ctx))
	require.Len(t, repo.records, 2)
	for _, rec := range repo.records {
		assert.Equal(t, "user-1", rec.UserID)
		require.NotNil(t, rec.EndTime)
		require.Len(t, rec.Messages, 1)
		assert.Equal(t, "mock reply", rec.Messages[0].Response)
	}

	// Closing again does not duplicate uploads.
	require.NoError(t, c.CloseSession(ctx))
	assert.Len(t, repo.records, 2)
}

func TestCloseSessionWithDispatchInFlight(t *testing.T) {
	release := make(chan struct{})
	p := &provider.MockClient{
		DispatchFunc: func(ctx context.Context, req provider.DispatchRequest) (string, error) {
			<-release
			return "late reply", nil
		},
	}
	c, repo := readyController(t, p)
	ctx := context.Background()

	done, err := c.SendTurn(ctx, "still waiting", nil)
	require.NoError(t, err)
	convID := c.Active().ID
	c.NewConversation()

	// The dispatch has not resolved: the upload must see the user turn
	// without tearing a concurrent append.
	require.NoError(t, c.CloseSession(ctx))
	require.Len(t, repo.records, 1)
	require.Len(t, repo.records[0].Messages, 1)
	assert.Equal(t, "still waiting", repo.records[0].Messages[0].Message)
	assert.Empty(t, repo.records[0].Messages[0].Response)

	close(release)
	res := <-done
	require.NoError(t, res.Err)
	assert.Len(t, c.store.Turns(convID), 2)
}

func TestCloseSessionSkipsFailedUploadForRetry(t *testing.T) {
	c, repo := readyController(t, &provider.MockClient{})
	ctx := context.Background()

	done, _ := c.SendTurn(ctx, "flaky upload", nil)
	<-done

	repo.fail = errors.New("history api down")
	err := c.CloseSession(ctx)
	require.Error(t, err)
	assert.Empty(t, repo.records)

	// The failed conversation is still pending; a later close uploads it.
	repo.fail = nil
	require.NoError(t, c.CloseSession(ctx))
	require.Len(t, repo.records, 1)
	assert.Equal(t, "flaky upload", repo.records[0].Topic)
}

func TestSendResultDeliveryIsNonBlocking(t *testing.T) {
	c, _ := readyController(t, &provider.MockClient{})

	done, err := c.SendTurn(context.Background(), "fire and forget", nil)
	require.NoError(t, err)

	// Even if the caller never reads, the dispatch completes and the
	// transcript fills in; the buffered channel holds the result.
	require.Eventually(t, func() bool {
		conv := c.Active()
		return conv != nil && len(conv.Turns) == 2
	}, 2*time.Second, 10*time.Millisecond)

	res := <-done
	assert.Equal(t, "mock reply", res.Reply)
}
