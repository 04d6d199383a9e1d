package conversation

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confdex/assistant-client/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(4, logger.New(logger.Config{Level: slog.LevelError}))
}

func TestSetActiveResetsHistoryLoaded(t *testing.T) {
	store := newTestStore(t)

	store.SetActiveConversation("c1")
	store.MarkHistoryLoaded([]ChatMessage{{ID: "m1", IsUser: true, Type: TypeText, Message: "hi"}})
	require.True(t, store.HistoryLoaded())

	store.SetActiveConversation("c2")
	assert.False(t, store.HistoryLoaded(), "history loaded is per activation")
	assert.Empty(t, store.Messages())
}

func TestSwitchingBackRestoresParkedLog(t *testing.T) {
	store := newTestStore(t)

	store.SetActiveConversation("c1")
	store.MarkHistoryLoaded([]ChatMessage{{ID: "m1", Type: TypeText, Message: "first"}})

	store.SetActiveConversation("c2")
	store.SetActiveConversation("c1")

	require.True(t, store.HistoryLoaded(), "parked log counts as loaded")
	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "first", messages[0].Message)
}

func TestUnloadedLogIsNotParked(t *testing.T) {
	store := newTestStore(t)

	store.SetActiveConversation("c1")
	store.AppendMessage(ChatMessage{ID: "m1", Type: TypeText, Message: "partial"})
	// History never finished loading for c1.

	store.SetActiveConversation("c2")
	store.SetActiveConversation("c1")

	assert.False(t, store.HistoryLoaded())
	assert.Empty(t, store.Messages())
}

func TestSetActiveSameIDIsNoop(t *testing.T) {
	store := newTestStore(t)
	store.SetActiveConversation("c1")
	store.MarkHistoryLoaded([]ChatMessage{{ID: "m1", Type: TypeText}})

	store.SetActiveConversation("c1")
	assert.True(t, store.HistoryLoaded())
	assert.Len(t, store.Messages(), 1)
}

func TestAppendToMissingMessage(t *testing.T) {
	store := newTestStore(t)
	assert.False(t, store.AppendToMessage("ghost", "text"))
}

func TestReplaceMessageKeepsPosition(t *testing.T) {
	store := newTestStore(t)
	store.AppendMessage(ChatMessage{ID: "a", IsUser: true, Type: TypeText, Message: "question"})
	store.AppendMessage(ChatMessage{ID: "b", Type: TypeText, Message: "partial"})
	store.AppendMessage(ChatMessage{ID: "c", IsUser: true, Type: TypeText, Message: "followup"})

	require.True(t, store.ReplaceMessage("b", ChatMessage{ID: "final", Type: TypeText, Message: "full answer"}))

	messages := store.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "final", messages[1].ID)
	assert.Equal(t, "full answer", messages[1].Message)
}

func TestListOrderPreserved(t *testing.T) {
	store := newTestStore(t)
	store.SetConversationList([]ListEntry{
		{ID: "newest", Title: "Parking near hall B"},
		{ID: "older", Title: "Lunch spots"},
	})

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "newest", list[0].ID)
	assert.True(t, store.InList("older"))
	assert.False(t, store.InList("deleted"))
}

func TestHistoryBuildsRequestTurns(t *testing.T) {
	messages := []ChatMessage{
		{ID: "m1", IsUser: true, Type: TypeText, Message: "any cafes?"},
		{ID: "m2", Type: TypeText, Message: "Two nearby."},
		{ID: "m3", Type: TypeError, Message: "stream interrupted"},
	}

	items := History(messages)
	require.Len(t, items, 2, "error messages stay out of request history")
	assert.Equal(t, "user", items[0].Role)
	assert.Equal(t, "assistant", items[1].Role)
}
