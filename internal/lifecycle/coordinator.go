package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confdex/assistant-client/internal/apperrors"
	"github.com/confdex/assistant-client/internal/conversation"
	"github.com/confdex/assistant-client/internal/logger"
	"github.com/confdex/assistant-client/internal/routing"
)

// Deleter issues the backend deletion request. Satisfied by the api
// client.
type Deleter interface {
	DeleteConversation(ctx context.Context, id string) error
}

// PendingDeletion tracks one optimistic deletion awaiting its
// authoritative confirmation: a list push that no longer contains the
// id.
type PendingDeletion struct {
	ConversationID string
	StartedAt      time.Time
}

// Coordinator owns the cross-cutting conversation lifecycle flows:
// deletion with authoritative confirmation, and reconciliation of
// routes naming conversations that no longer exist.
//
// Deletion is optimistic at the surface but only complete once the
// server's list omits the id; then, exactly once, the route loses the
// id and the view moves to history iff the deleted conversation was
// the active one. A confirmation that never arrives within the
// configured window surfaces a chat-visible error instead of hanging
// forever.
type Coordinator struct {
	store  *conversation.Store
	api    Deleter
	nav    routing.Navigator
	window time.Duration
	log    *logger.Logger

	mu         sync.Mutex
	pending    map[string]*pendingEntry
	notFound   map[string]bool
	redirected map[string]bool
}

type pendingEntry struct {
	deletion PendingDeletion
	timer    *time.Timer
}

// NewCoordinator creates a coordinator. window bounds how long a
// deletion may await confirmation.
func NewCoordinator(store *conversation.Store, api Deleter, nav routing.Navigator, window time.Duration, log *logger.Logger) *Coordinator {
	if window <= 0 {
		window = 15 * time.Second
	}
	return &Coordinator{
		store:      store,
		api:        api,
		nav:        nav,
		window:     window,
		log:        log.WithComponent("lifecycle"),
		pending:    make(map[string]*pendingEntry),
		notFound:   make(map[string]bool),
		redirected: make(map[string]bool),
	}
}

// Delete requests deletion of a conversation. The call returns once
// the backend accepted the request; completion is signalled later by a
// list push without the id.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, inFlight := c.pending[id]; inFlight {
		c.mu.Unlock()
		return nil
	}
	entry := &pendingEntry{
		deletion: PendingDeletion{ConversationID: id, StartedAt: time.Now()},
	}
	entry.timer = time.AfterFunc(c.window, func() { c.expire(id) })
	c.pending[id] = entry
	c.mu.Unlock()

	if err := c.api.DeleteConversation(ctx, id); err != nil {
		c.abandon(id)
		if apperrors.IsNotFound(err) {
			// Already gone server-side; treat as confirmed.
			c.confirm(id)
			return nil
		}
		return fmt.Errorf("delete conversation: %w", err)
	}

	c.log.Info("deletion requested", slog.String("conversation_id", id))
	return nil
}

// Pending returns the in-flight deletions, for surfaces that grey out
// entries awaiting confirmation.
func (c *Coordinator) Pending() []PendingDeletion {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingDeletion, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, entry.deletion)
	}
	return out
}

// HandleListChanged consumes an authoritative list update: it
// confirms pending deletions whose id disappeared and re-evaluates
// not-found candidates.
func (c *Coordinator) HandleListChanged(entries []conversation.ListEntry) {
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[entry.ID] = true
	}

	c.mu.Lock()
	var confirmed, gone []string
	for id, entry := range c.pending {
		if !present[id] {
			entry.timer.Stop()
			delete(c.pending, id)
			confirmed = append(confirmed, id)
		}
	}
	for id := range c.notFound {
		if !present[id] {
			delete(c.notFound, id)
			gone = append(gone, id)
		}
		// Still listed: the load failure was transitional, keep waiting.
	}
	c.mu.Unlock()

	for _, id := range confirmed {
		c.log.Info("deletion confirmed", slog.String("conversation_id", id))
		c.finishRemoval(id)
	}
	for _, id := range gone {
		c.finishRemoval(id)
	}
}

// HandleLoadFailure feeds a history load result into not-found
// reconciliation. Only a definitive not-found for the routed
// conversation participates; transport failures retry elsewhere.
func (c *Coordinator) HandleLoadFailure(id string, err error) {
	if !apperrors.IsNotFound(err) {
		return
	}

	c.mu.Lock()
	if _, deleting := c.pending[id]; deleting {
		// The deletion flow owns this id.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.store.InList(id) {
		// The list still names it; ambiguous, wait for the next push.
		c.mu.Lock()
		c.notFound[id] = true
		c.mu.Unlock()
		c.log.Warn("load returned not found but list disagrees, waiting",
			slog.String("conversation_id", id))
		return
	}

	c.finishRemoval(id)
}

// finishRemoval strips the id from the surface exactly once: route to
// history iff the conversation was active, otherwise nothing visible
// changes.
func (c *Coordinator) finishRemoval(id string) {
	c.mu.Lock()
	if c.redirected[id] {
		c.mu.Unlock()
		return
	}
	c.redirected[id] = true
	c.mu.Unlock()

	if c.store.ActiveConversation() != id {
		return
	}

	c.store.SetActiveConversation("")
	c.nav.Replace(routing.HistoryRoute())
	c.log.Info("removed conversation left the surface", slog.String("conversation_id", id))
}

// expire drops a pending deletion whose confirmation never arrived and
// surfaces the failure in the chat log.
func (c *Coordinator) expire(id string) {
	if !c.abandon(id) {
		return
	}

	c.log.Error("deletion confirmation timed out", slog.String("conversation_id", id))
	c.store.AppendMessage(conversation.ChatMessage{
		ID:      uuid.NewString(),
		Type:    conversation.TypeError,
		Message: "The conversation could not be deleted. Please try again.",
	})
}

// abandon removes a pending entry, reporting whether it existed.
func (c *Coordinator) abandon(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, exists := c.pending[id]
	if !exists {
		return false
	}
	entry.timer.Stop()
	delete(c.pending, id)
	return true
}

// confirm marks a deletion as complete without a list push, used when
// the backend reports the id already gone.
func (c *Coordinator) confirm(id string) {
	c.finishRemoval(id)
}
