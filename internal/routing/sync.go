package routing

import (
	"log/slog"

	"github.com/confdex/assistant-client/internal/logger"
)

// Commands is the output of one reduction step. Zero-valued fields
// mean no action. The caller applies them in order: route first, then
// store, then load.
type Commands struct {
	// ReplaceRoute rewrites the location without a history entry.
	ReplaceRoute *Route
	// SetActive switches the store's active conversation.
	SetActive *string
	// LoadConversation requests a history fetch for the id.
	LoadConversation string
}

func (c Commands) empty() bool {
	return c.ReplaceRoute == nil && c.SetActive == nil && c.LoadConversation == ""
}

// oneShot is a latch armed before a self-inflicted write and consumed
// by exactly one observation. A second observation reads as external.
type oneShot struct {
	armed bool
}

func (o *oneShot) Arm() {
	o.armed = true
}

func (o *oneShot) Consume() bool {
	was := o.armed
	o.armed = false
	return was
}

// Synchronizer keeps the route's id parameter and the store's active
// conversation converged, as a unidirectional reducer: every input is
// either a route observation or an active-conversation change, and the
// output is an explicit command set. It never writes state itself, so
// there is no echo loop to suppress beyond the single armed
// internal-write observation.
//
// The did-attempt guard is keyed to the current param value: one load
// per distinct id per appearance, even across reconnect churn.
//
// Not safe for concurrent use; drive it from a single event loop.
type Synchronizer struct {
	log *logger.Logger

	route       Route
	ready       bool
	internal    oneShot
	attemptedID string
	pendingLoad string
}

// NewSynchronizer starts from the live-session route with the channel
// not yet ready.
func NewSynchronizer(log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		log:   log.WithComponent("route-sync"),
		route: ChatRoute(""),
	}
}

// Route returns the last observed route.
func (s *Synchronizer) Route() Route {
	return s.route
}

// ReduceRoute processes a route observation.
func (s *Synchronizer) ReduceRoute(route Route, activeID string) Commands {
	previous := s.route
	s.route = route

	if s.internal.Consume() {
		// Our own write echoing back; already converged.
		return Commands{}
	}

	if route.ConversationID != previous.ConversationID {
		// New param value, new permission to attempt a load.
		s.attemptedID = ""
		s.pendingLoad = ""
	}

	cmds := Commands{}
	if route.ConversationID != activeID {
		id := route.ConversationID
		cmds.SetActive = &id
	}
	if route.ConversationID != "" && route.ConversationID != s.attemptedID {
		if s.ready {
			s.attemptedID = route.ConversationID
			cmds.LoadConversation = route.ConversationID
		} else {
			s.pendingLoad = route.ConversationID
		}
	}

	if !cmds.empty() {
		s.log.Debug("route observation produced commands",
			slog.String("path", route.Path),
			slog.String("conversation_id", route.ConversationID))
	}
	return cmds
}

// ReduceActiveChanged processes a store-side active conversation
// change. Store-to-route reconciliation only concerns the id
// parameter: on the chat path it must equal the active id, elsewhere
// it is already absent. Clearing the active conversation while on a
// non-chat view therefore rewrites nothing; only a newly active
// conversation pulls the surface back to chat.
func (s *Synchronizer) ReduceActiveChanged(activeID string) Commands {
	if s.route.Path == PathChat && s.route.ConversationID == activeID {
		return Commands{}
	}
	if s.route.Path != PathChat && activeID == "" {
		return Commands{}
	}

	target := ChatRoute(activeID)
	s.internal.Arm()
	s.route = target

	s.log.Debug("active change rewrites route", slog.String("conversation_id", activeID))
	return Commands{ReplaceRoute: &target}
}

// SetReady records connection readiness. Becoming ready releases a
// load that was gated while offline, still subject to the did-attempt
// guard.
func (s *Synchronizer) SetReady(ready bool) Commands {
	s.ready = ready
	if !ready || s.pendingLoad == "" {
		return Commands{}
	}

	id := s.pendingLoad
	s.pendingLoad = ""
	if id != s.route.ConversationID || id == s.attemptedID {
		return Commands{}
	}
	s.attemptedID = id
	return Commands{LoadConversation: id}
}

// MarkAttempted records an externally issued load for the id, so a
// later readiness flip does not duplicate it.
func (s *Synchronizer) MarkAttempted(id string) {
	s.attemptedID = id
	if s.pendingLoad == id {
		s.pendingLoad = ""
	}
}
