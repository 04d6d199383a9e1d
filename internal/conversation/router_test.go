package conversation

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confdex/assistant-client/internal/logger"
	"github.com/confdex/assistant-client/internal/realtime"
	"github.com/confdex/assistant-client/internal/stream"
)

type recordingOpener struct {
	mu      sync.Mutex
	targets []string
	// snapshot of the last log message at open time, to pin ordering
	snapshot string
}

func (o *recordingOpener) OpenURL(target string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.targets = append(o.targets, target)
	return nil
}

type recordingConfirmer struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
}

func (c *recordingConfirmer) ConfirmEmailSend(payload map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
}

type routerFixture struct {
	store     *Store
	fatal     *realtime.FatalLatch
	router    *Router
	opener    *recordingOpener
	confirmer *recordingConfirmer
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	store := NewStore(4, log)
	fatal := &realtime.FatalLatch{}
	opener := &recordingOpener{}
	confirmer := &recordingConfirmer{}

	router := NewRouter(store, fatal, RouterOptions{
		WebBaseURL:        "https://confdex.example",
		Locale:            "en",
		AnimatorInterval:  time.Millisecond,
		AnimatorChunkSize: 64,
		Opener:            opener,
		Confirmer:         confirmer,
	}, log)

	return &routerFixture{store: store, fatal: fatal, router: router, opener: opener, confirmer: confirmer}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStatusUpdatesLoadingOnly(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.StatusUpdate{Step: "preparing_message", Message: "Thinking"})

	loading := fx.store.Loading()
	assert.True(t, loading.IsLoading)
	assert.Equal(t, StepPreparingMessage, loading.Step)
	assert.Empty(t, fx.store.Messages(), "status frames never touch the log")
}

func TestUnknownStatusStepStillDisplayed(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.StatusUpdate{Step: "reticulating"})
	assert.Equal(t, Step("reticulating"), fx.store.Loading().Step)
}

func TestChunksCreatePlaceholderAndDeliverText(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "The venue "})
	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "opens at 9."})

	messages := fx.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "r1", messages[0].ID)
	assert.Equal(t, StepStreamingResponse, fx.store.Loading().Step)

	waitFor(t, "paced delivery", func() bool {
		msgs := fx.store.Messages()
		return len(msgs) == 1 && msgs[0].Message == "The venue opens at 9."
	})
}

func TestResultReplacesPlaceholderInPlace(t *testing.T) {
	fx := newRouterFixture(t)
	fx.store.AppendMessage(ChatMessage{ID: "u1", IsUser: true, Type: TypeText, Message: "when does it open?"})

	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "The venue opens at 9."})
	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "The venue opens at 9.", Thoughts: "checked listing"})

	waitFor(t, "finalize", func() bool {
		msgs := fx.store.Messages()
		return len(msgs) == 2 && msgs[1].ID != "r1" && msgs[1].Message == "The venue opens at 9."
	})

	messages := fx.store.Messages()
	assert.True(t, messages[0].IsUser, "placeholder position is preserved")
	assert.Equal(t, "checked listing", messages[1].Thoughts)
	assert.Equal(t, StepResultReceived, fx.store.Loading().Step)
}

func TestChunklessResultAppendsDirectly(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "Done."})

	messages := fx.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Done.", messages[0].Message)
}

func TestDuplicateResultSuppressed(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "Done."})
	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "Done."})

	assert.Len(t, fx.store.Messages(), 1)
}

func TestLateChunkAfterFinalizeDropped(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "Done."})
	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "stale"})

	time.Sleep(10 * time.Millisecond)
	messages := fx.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Done.", messages[0].Message)
}

func TestOpenMapResultBecomesMapMessage(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{
		Message: "Here is the hall.",
		Action:  &stream.Action{Type: stream.ActionOpenMap, Location: "Hall B, Convention Center"},
	})

	messages := fx.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, TypeMap, messages[0].Type)
	assert.Equal(t, "Hall B, Convention Center", messages[0].Location)
	assert.Empty(t, fx.opener.targets, "open_map never opens a URL")
}

func TestNavigateResolvedAfterLogMutation(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{
		Message: "Taking you there.",
		Action:  &stream.Action{Type: stream.ActionNavigate, URL: "/directory/catering"},
	})

	waitFor(t, "navigation", func() bool {
		fx.opener.mu.Lock()
		defer fx.opener.mu.Unlock()
		return len(fx.opener.targets) == 1
	})

	assert.Equal(t, "https://confdex.example/en/directory/catering", fx.opener.targets[0])
	// The result message landed before the navigation side effect.
	require.Len(t, fx.store.Messages(), 1)
}

func TestAbsoluteNavigateURLPassesThrough(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{
		Message: "Opening the site.",
		Action:  &stream.Action{Type: stream.ActionNavigate, URL: "https://partner.example/tickets"},
	})

	waitFor(t, "navigation", func() bool {
		fx.opener.mu.Lock()
		defer fx.opener.mu.Unlock()
		return len(fx.opener.targets) == 1
	})
	assert.Equal(t, "https://partner.example/tickets", fx.opener.targets[0])
}

func TestEmailConfirmationNeverAutoProceeds(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ResultUpdate{
		Message: "Ready to send.",
		Action: &stream.Action{
			Type:    stream.ActionConfirmEmailSend,
			Payload: map[string]interface{}{"confirmationId": "cf-1", "to": "booth@example.org"},
		},
	})

	waitFor(t, "confirmation surfaced", func() bool {
		fx.confirmer.mu.Lock()
		defer fx.confirmer.mu.Unlock()
		return len(fx.confirmer.payloads) == 1
	})
	assert.Equal(t, "cf-1", fx.confirmer.payloads[0]["confirmationId"])
	assert.Empty(t, fx.opener.targets)
}

func TestSwitchingConversationsAbandonsInFlightResponse(t *testing.T) {
	fx := newRouterFixture(t)
	fx.store.SetActiveConversation("a")

	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "answer for a"})

	fx.store.SetActiveConversation("b")
	fx.router.HandleActiveChanged()

	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "answer for a"})

	time.Sleep(10 * time.Millisecond)
	for _, msg := range fx.store.Messages() {
		assert.NotEqual(t, "answer for a", msg.Message,
			"a response may never land in another conversation's log")
	}
	assert.Equal(t, StepIdle, fx.store.Loading().Step)
}

func TestResultForInactiveConversationDropped(t *testing.T) {
	fx := newRouterFixture(t)
	fx.store.SetActiveConversation("a")

	// A chunkless response bound to "a" whose result arrives after the
	// user moved on; abandonment was missed, the ownership check still
	// keeps the log clean.
	fx.router.HandleFrame("r1", stream.StatusUpdate{Step: "preparing_message"})
	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "partial"})
	fx.store.SetActiveConversation("b")

	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "late answer"})

	waitFor(t, "finalize to settle", func() bool {
		_, streaming := fx.router.Animator().Streaming()
		return !streaming
	})
	assert.Empty(t, fx.store.Messages(), "conversation b must stay untouched")
}

func TestErrorCancelsStreamingAndAppends(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "partial answer that will be interru"})
	fx.router.HandleFrame("r1", stream.ErrorUpdate{Message: "upstream timeout", Severity: stream.SeverityError})

	waitFor(t, "error appended", func() bool {
		msgs := fx.store.Messages()
		return len(msgs) == 2 && msgs[1].Type == TypeError
	})
	assert.Equal(t, "upstream timeout", fx.store.Messages()[1].Message)
	assert.Equal(t, StepError, fx.store.Loading().Step)
	assert.False(t, fx.fatal.Tripped())
}

func TestConsecutiveIdenticalErrorsCollapse(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ErrorUpdate{Message: "rate limited", Severity: stream.SeverityError})
	fx.router.HandleFrame("r2", stream.ErrorUpdate{Message: "rate limited", Severity: stream.SeverityError})

	assert.Len(t, fx.store.Messages(), 1)
}

func TestWarningSeverityRendersWarning(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ErrorUpdate{Message: "partial frame discarded", Severity: stream.SeverityWarning})

	messages := fx.store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, TypeWarning, messages[0].Type)
}

func TestWarningKeepsResponseInFlight(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "The hall "})
	fx.router.HandleFrame("r1", stream.ErrorUpdate{Message: "partial frame discarded", Severity: stream.SeverityWarning})
	fx.router.HandleFrame("r1", stream.ChatUpdate{TextChunk: "is open."})
	fx.router.HandleFrame("r1", stream.ResultUpdate{Message: "The hall is open."})

	waitFor(t, "finalize after warning", func() bool {
		for _, msg := range fx.store.Messages() {
			if msg.Type == TypeText && msg.Message == "The hall is open." {
				return true
			}
		}
		return false
	})
}

func TestFatalErrorTripsLatch(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ErrorUpdate{Message: "session revoked", Severity: stream.SeverityError, Fatal: true})

	assert.True(t, fx.fatal.Tripped())
	assert.Equal(t, StepFatalError, fx.store.Loading().Step)
}

func TestConnectionEventsMapToLoading(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleConnectionEvent(realtime.StateChanged{State: realtime.StateConnecting})
	assert.Equal(t, StepConnecting, fx.store.Loading().Step)

	fx.router.HandleConnectionEvent(realtime.StateChanged{State: realtime.StateDisconnected, Reason: "read: connection reset"})
	loading := fx.store.Loading()
	assert.Equal(t, StepDisconnected, loading.Step)
	assert.Empty(t, loading.Message, "transport reasons stay out of the chat surface")

	fx.router.HandleConnectionEvent(realtime.Ready{})
	assert.Equal(t, StepIdle, fx.store.Loading().Step)
}

func TestFatalConnectionStateShownOnce(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleFrame("r1", stream.ErrorUpdate{Message: "session revoked", Severity: stream.SeverityError, Fatal: true})
	fx.store.SetLoading(LoadingState{Step: StepFatalError, Message: "session revoked"})

	fx.router.HandleConnectionEvent(realtime.StateChanged{State: realtime.StateFatalError, Reason: "read failed"})
	loading := fx.store.Loading()
	assert.Equal(t, "session revoked", loading.Message, "later disconnect noise is suppressed after fatal")
}

func TestListPushReplacesStoreList(t *testing.T) {
	fx := newRouterFixture(t)

	fx.router.HandleConnectionEvent(realtime.ListUpdate{Conversations: []realtime.ConversationSummary{
		{ID: "c2", Title: "Badge pickup"},
		{ID: "c1", Title: "Wifi access"},
	}})

	list := fx.store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
}
