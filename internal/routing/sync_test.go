package routing

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confdex/assistant-client/internal/logger"
)

func newTestSync(t *testing.T) *Synchronizer {
	t.Helper()
	return NewSynchronizer(logger.New(logger.Config{Level: slog.LevelError}))
}

func TestParseRoute(t *testing.T) {
	route, err := ParseRoute("/chat?id=c42")
	require.NoError(t, err)
	assert.Equal(t, PathChat, route.Path)
	assert.Equal(t, "c42", route.ConversationID)

	route, err = ParseRoute("/history?id=c42")
	require.NoError(t, err)
	assert.Empty(t, route.ConversationID, "history never carries an id")
}

func TestRouteString(t *testing.T) {
	assert.Equal(t, "/chat", ChatRoute("").String())
	assert.Equal(t, "/chat?id=c42", ChatRoute("c42").String())
	assert.Equal(t, "/history", HistoryRoute().String())
}

func TestExternalRouteChangeDrivesStoreAndLoad(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)

	cmds := sync.ReduceRoute(ChatRoute("c1"), "")
	require.NotNil(t, cmds.SetActive)
	assert.Equal(t, "c1", *cmds.SetActive)
	assert.Equal(t, "c1", cmds.LoadConversation)
}

func TestConvergenceWithinOneCycle(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)

	// External route change: apply SetActive, then the store echoes an
	// active change. That echo must not produce another route write.
	cmds := sync.ReduceRoute(ChatRoute("c1"), "")
	require.NotNil(t, cmds.SetActive)

	followup := sync.ReduceActiveChanged("c1")
	assert.Nil(t, followup.ReplaceRoute, "already converged, no oscillation")
}

func TestActiveChangeRewritesRouteOnce(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)

	cmds := sync.ReduceActiveChanged("c7")
	require.NotNil(t, cmds.ReplaceRoute)
	assert.Equal(t, "c7", cmds.ReplaceRoute.ConversationID)

	// The navigator applies the write and the observation echoes back.
	echo := sync.ReduceRoute(*cmds.ReplaceRoute, "c7")
	assert.True(t, echo.empty(), "internal write consumed exactly once")

	// A second identical observation is external and must reduce
	// normally, not be swallowed by a stale flag.
	again := sync.ReduceRoute(ChatRoute("c7"), "c7")
	assert.Nil(t, again.SetActive)
}

func TestLoadGatedOnReadiness(t *testing.T) {
	sync := newTestSync(t)

	cmds := sync.ReduceRoute(ChatRoute("c1"), "")
	assert.Empty(t, cmds.LoadConversation, "no load while offline")

	release := sync.SetReady(true)
	assert.Equal(t, "c1", release.LoadConversation)

	// Readiness flapping must not re-issue the load.
	sync.SetReady(false)
	again := sync.SetReady(true)
	assert.Empty(t, again.LoadConversation)
}

func TestDidAttemptGuardPerParamValue(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)

	first := sync.ReduceRoute(ChatRoute("c1"), "")
	assert.Equal(t, "c1", first.LoadConversation)

	repeat := sync.ReduceRoute(ChatRoute("c1"), "c1")
	assert.Empty(t, repeat.LoadConversation, "same param value loads once")

	other := sync.ReduceRoute(ChatRoute("c2"), "c1")
	assert.Equal(t, "c2", other.LoadConversation, "new param value resets the guard")
}

func TestClearingActiveOnHistoryViewStaysPut(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)

	// Viewing c1, then the coordinator deletes it: navigate to history,
	// clear the active conversation. Neither order of those two
	// observations may rewrite the route back to chat.
	sync.ReduceRoute(ChatRoute("c1"), "")
	sync.ReduceRoute(HistoryRoute(), "c1")

	cmds := sync.ReduceActiveChanged("")
	assert.Nil(t, cmds.ReplaceRoute, "history view keeps the user after a deletion")
	assert.Equal(t, PathHistory, sync.Route().Path)
}

func TestActivatingConversationFromHistoryReturnsToChat(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)
	sync.ReduceRoute(HistoryRoute(), "")

	cmds := sync.ReduceActiveChanged("c3")
	require.NotNil(t, cmds.ReplaceRoute)
	assert.Equal(t, "c3", cmds.ReplaceRoute.ConversationID)
}

func TestLiveSessionRouteClearsActive(t *testing.T) {
	sync := newTestSync(t)
	sync.SetReady(true)
	sync.ReduceRoute(ChatRoute("c1"), "")

	cmds := sync.ReduceRoute(ChatRoute(""), "c1")
	require.NotNil(t, cmds.SetActive)
	assert.Empty(t, *cmds.SetActive)
	assert.Empty(t, cmds.LoadConversation)
}

func TestMarkAttemptedSuppressesPendingLoad(t *testing.T) {
	sync := newTestSync(t)

	sync.ReduceRoute(ChatRoute("c1"), "")
	sync.MarkAttempted("c1")

	release := sync.SetReady(true)
	assert.Empty(t, release.LoadConversation)
}
