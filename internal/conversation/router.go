package conversation

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confdex/assistant-client/internal/animator"
	"github.com/confdex/assistant-client/internal/logger"
	"github.com/confdex/assistant-client/internal/realtime"
	"github.com/confdex/assistant-client/internal/stream"
)

// URLOpener hands a resolved navigation target to the host surface.
type URLOpener interface {
	OpenURL(target string) error
}

// EmailConfirmer surfaces a pending outbound email for explicit user
// approval. The router never auto-proceeds.
type EmailConfirmer interface {
	ConfirmEmailSend(payload map[string]interface{})
}

type responsePhase int

const (
	phaseNone responsePhase = iota
	phaseStreaming
	phaseFinalized
)

type responseState struct {
	phase   responsePhase
	pending *stream.ResultUpdate
	// conversationID pins the response to the conversation that was
	// active when it started; its output may never land elsewhere.
	conversationID string
	bound          bool
}

// RouterOptions configures a Router.
type RouterOptions struct {
	WebBaseURL        string
	Locale            string
	AnimatorInterval  time.Duration
	AnimatorChunkSize int
	Opener            URLOpener
	Confirmer         EmailConfirmer
}

// Router translates decoded response frames and connection events into
// store mutations. It owns the text animator and the per-response
// lifecycle: a response progresses none -> streaming -> finalized, and
// a late or duplicate frame can never steal an earlier response's
// placeholder.
type Router struct {
	store      *Store
	fatal      *realtime.FatalLatch
	anim       *animator.Animator
	opener     URLOpener
	confirmer  EmailConfirmer
	webBaseURL string
	locale     string
	log        *logger.Logger

	mu         sync.Mutex
	responses  map[string]*responseState
	shownFatal bool
}

// NewRouter creates a router wired to the store and fatal latch. The
// animator delivers paced chunks straight into the store under the
// response's placeholder id.
func NewRouter(store *Store, fatal *realtime.FatalLatch, opts RouterOptions, log *logger.Logger) *Router {
	r := &Router{
		store:      store,
		fatal:      fatal,
		opener:     opts.Opener,
		confirmer:  opts.Confirmer,
		webBaseURL: strings.TrimSuffix(opts.WebBaseURL, "/"),
		locale:     opts.Locale,
		log:        log.WithComponent("message-router"),
		responses:  make(map[string]*responseState),
	}

	r.anim = animator.New(
		opts.AnimatorInterval,
		opts.AnimatorChunkSize,
		func(streamID, text string) {
			store.AppendToMessage(streamID, text)
		},
		r.onAnimationDone,
		log,
	)
	return r
}

// Animator exposes the owned animator, mainly so callers can cancel it
// on user interrupts.
func (r *Router) Animator() *animator.Animator {
	return r.anim
}

// HandleFrame routes one decoded frame of the response identified by
// responseID.
func (r *Router) HandleFrame(responseID string, ev stream.Event) {
	switch frame := ev.(type) {
	case stream.StatusUpdate:
		r.handleStatus(frame)
	case stream.ChatUpdate:
		r.handleChat(responseID, frame)
	case stream.ResultUpdate:
		r.handleResult(responseID, frame)
	case stream.ErrorUpdate:
		r.handleError(responseID, frame)
	}
}

// handleStatus updates the loading indicator only; status frames never
// touch the message log.
func (r *Router) handleStatus(frame stream.StatusUpdate) {
	step := Step(frame.Step)
	if !KnownStep(step) {
		r.log.Warn("unknown status step", slog.String("step", frame.Step))
	}
	r.store.SetLoading(LoadingState{IsLoading: true, Step: step, Message: frame.Message})
}

func (r *Router) handleChat(responseID string, frame stream.ChatUpdate) {
	r.mu.Lock()
	state := r.state(responseID)
	r.bindLocked(state)
	if state.phase == phaseFinalized {
		r.mu.Unlock()
		r.log.Warn("chunk after finalize dropped", slog.String("response_id", responseID))
		return
	}

	starting := state.phase == phaseNone
	if starting {
		state.phase = phaseStreaming
	}
	r.mu.Unlock()

	if starting {
		r.store.AppendMessage(ChatMessage{ID: responseID, Type: TypeText})
		if err := r.anim.Start(responseID); err != nil {
			// A previous response's drain is still running; skip pacing
			// and land the text directly.
			r.log.Warn("animator busy, bypassing pacing",
				slog.String("response_id", responseID),
				slog.String("error", err.Error()))
		}
		r.store.SetLoading(LoadingState{IsLoading: true, Step: StepStreamingResponse})
	}

	if err := r.anim.Feed(frame.TextChunk); err != nil {
		r.store.AppendToMessage(responseID, frame.TextChunk)
	}
}

// handleResult completes a response. When text is still draining the
// finalize is deferred to the animation done callback so paced
// delivery finishes; a chunkless response finalizes immediately.
func (r *Router) handleResult(responseID string, frame stream.ResultUpdate) {
	r.mu.Lock()
	state := r.state(responseID)
	r.bindLocked(state)
	if state.phase == phaseFinalized {
		r.mu.Unlock()
		r.log.Warn("duplicate result suppressed", slog.String("response_id", responseID))
		return
	}

	wasStreaming := state.phase == phaseStreaming
	state.pending = &frame
	r.mu.Unlock()

	if wasStreaming {
		if id, active := r.anim.Streaming(); active && id == responseID {
			r.anim.Complete()
			return
		}
	}
	r.finalize(responseID)
}

func (r *Router) onAnimationDone(streamID string) {
	r.finalize(streamID)
}

func (r *Router) finalize(responseID string) {
	r.mu.Lock()
	state := r.state(responseID)
	if state.phase == phaseFinalized || state.pending == nil {
		r.mu.Unlock()
		return
	}
	result := *state.pending
	wasStreaming := state.phase == phaseStreaming
	owner := state.conversationID
	state.phase = phaseFinalized
	state.pending = nil
	r.mu.Unlock()

	final := ChatMessage{
		ID:       uuid.NewString(),
		Type:     TypeText,
		Message:  result.Message,
		Thoughts: result.Thoughts,
	}
	if result.Action != nil && result.Action.Type == stream.ActionOpenMap {
		final.Type = TypeMap
		final.Location = result.Action.Location
	}

	if r.store.ActiveConversation() != owner {
		// The response belongs to a conversation that is no longer on
		// screen; its answer must not land in the current log.
		r.log.Warn("result for inactive conversation dropped",
			slog.String("response_id", responseID),
			slog.String("conversation_id", owner))
		return
	}

	if wasStreaming {
		if !r.store.ReplaceMessage(responseID, final) {
			r.log.Warn("placeholder vanished before finalize",
				slog.String("response_id", responseID))
			r.store.AppendMessage(final)
		}
	} else {
		r.store.AppendMessage(final)
	}

	r.store.SetLoading(LoadingState{Step: StepResultReceived})

	// Side effects strictly after the log mutation.
	if result.Action != nil {
		r.runAction(result.Action)
	}
}

func (r *Router) runAction(action *stream.Action) {
	switch action.Type {
	case stream.ActionNavigate:
		if r.opener == nil {
			return
		}
		target := r.resolveNavigate(action.URL)
		if err := r.opener.OpenURL(target); err != nil {
			r.log.Error("failed to open navigation target",
				slog.String("url", target),
				slog.String("error", err.Error()))
		}
	case stream.ActionOpenMap:
		// Already reflected as a map message; no side effect.
	case stream.ActionConfirmEmailSend:
		if r.confirmer != nil {
			r.confirmer.ConfirmEmailSend(action.Payload)
		}
	default:
		r.log.Warn("unknown action type", slog.String("type", string(action.Type)))
	}
}

// resolveNavigate turns a relative navigation path into an absolute
// localized URL; absolute URLs pass through untouched.
func (r *Router) resolveNavigate(raw string) string {
	if parsed, err := url.Parse(raw); err == nil && parsed.IsAbs() {
		return raw
	}
	path := strings.TrimPrefix(raw, "/")
	if r.locale != "" {
		return r.webBaseURL + "/" + r.locale + "/" + path
	}
	return r.webBaseURL + "/" + path
}

// handleError surfaces a server error or warning. A warning is
// chat-visible but leaves the response in flight; an error finalizes
// it, cancels any in-progress animation, and for fatal failures trips
// the latch. Identical consecutive messages collapse into one.
func (r *Router) handleError(responseID string, frame stream.ErrorUpdate) {
	terminal := frame.Severity != stream.SeverityWarning || frame.Fatal

	r.mu.Lock()
	state := r.state(responseID)
	alreadyFinal := state.phase == phaseFinalized
	wasStreaming := state.phase == phaseStreaming
	if terminal {
		state.phase = phaseFinalized
		state.pending = nil
	}
	r.mu.Unlock()

	if terminal && wasStreaming {
		if id, active := r.anim.Streaming(); active && id == responseID {
			r.anim.Cancel()
		}
	}

	msgType := TypeError
	if frame.Severity == stream.SeverityWarning {
		msgType = TypeWarning
	}

	if frame.Fatal {
		r.fatal.Trip()
		r.mu.Lock()
		r.shownFatal = true
		r.mu.Unlock()
	}

	if last, exists := r.store.LastMessage(); exists &&
		last.Type == msgType && last.Message == frame.Message {
		r.log.Debug("duplicate error collapsed", slog.String("message", frame.Message))
	} else if !alreadyFinal || frame.Fatal {
		r.store.AppendMessage(ChatMessage{
			ID:       uuid.NewString(),
			Type:     msgType,
			Message:  frame.Message,
			Thoughts: frame.Thoughts,
		})
	}

	switch {
	case frame.Fatal:
		r.store.SetLoading(LoadingState{Step: StepFatalError, Message: frame.Message})
	case terminal:
		r.store.SetLoading(LoadingState{Step: StepError, Message: frame.Message})
	}
}

// HandleActiveChanged abandons every response still in flight for the
// previous conversation: the animator stops and late frames for those
// responses are dropped instead of landing in the new log.
func (r *Router) HandleActiveChanged() {
	r.mu.Lock()
	abandoned := 0
	for _, state := range r.responses {
		if state.phase != phaseFinalized {
			state.phase = phaseFinalized
			state.pending = nil
			abandoned++
		}
	}
	r.mu.Unlock()

	if abandoned > 0 {
		r.anim.Cancel()
		r.log.Debug("abandoned in-flight responses on conversation switch",
			slog.Int("count", abandoned))
		r.store.SetLoading(LoadingState{Step: StepIdle})
	}
}

// HandleConnectionEvent maps realtime channel events into loading
// state and list updates.
func (r *Router) HandleConnectionEvent(ev realtime.Event) {
	switch event := ev.(type) {
	case realtime.StateChanged:
		r.handleStateChanged(event)
	case realtime.Ready:
		r.store.SetLoading(LoadingState{Step: StepIdle})
	case realtime.ListUpdate:
		entries := make([]ListEntry, 0, len(event.Conversations))
		for _, summary := range event.Conversations {
			entries = append(entries, ListEntry{ID: summary.ID, Title: summary.Title})
		}
		r.store.SetConversationList(entries)
	}
}

func (r *Router) handleStateChanged(event realtime.StateChanged) {
	switch event.State {
	case realtime.StateConnecting:
		r.store.SetLoading(LoadingState{IsLoading: true, Step: StepConnecting})
	case realtime.StateConnected:
		// Wait for the readiness signal before reporting idle.
	case realtime.StateDisconnected:
		// Neutral status: transport reasons are log material, not chat
		// material.
		r.store.SetLoading(LoadingState{Step: StepDisconnected})
	case realtime.StateAuthError:
		r.store.SetLoading(LoadingState{Step: StepAuthError, Message: event.Reason})
	case realtime.StateConnectionError:
		r.store.SetLoading(LoadingState{Step: StepConnectionError, Message: event.Reason})
	case realtime.StateFatalError:
		r.mu.Lock()
		suppress := r.shownFatal
		r.shownFatal = true
		r.mu.Unlock()
		if suppress {
			r.log.Debug("fatal already surfaced, suppressing")
			return
		}
		r.store.SetLoading(LoadingState{Step: StepFatalError, Message: event.Reason})
	case realtime.StateIdle:
		r.store.SetLoading(LoadingState{Step: StepIdle})
	}
}

// bindLocked pins an unbound response to the currently active
// conversation. Callers hold r.mu.
func (r *Router) bindLocked(state *responseState) {
	if !state.bound {
		state.conversationID = r.store.ActiveConversation()
		state.bound = true
	}
}

// state returns the lifecycle record for a response id, creating it on
// first sight. Callers hold r.mu.
func (r *Router) state(responseID string) *responseState {
	st, known := r.responses[responseID]
	if !known {
		st = &responseState{}
		r.responses[responseID] = st
	}
	return st
}
