package conversation

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/confdex/assistant-client/internal/logger"
)

// StoreEvent is one typed notification from the store to its single
// consumer.
type StoreEvent interface {
	storeEvent()
}

// ActiveChanged reports a change of the active conversation. ID is
// empty for a fresh live session.
type ActiveChanged struct {
	ID string
}

// ListChanged reports a replacement of the conversation list.
type ListChanged struct {
	Entries []ListEntry
}

// LoadingChanged reports a loading indicator transition.
type LoadingChanged struct {
	State LoadingState
}

// MessageAdded reports a message appended to the active log.
type MessageAdded struct {
	Message ChatMessage
}

// MessageUpdated reports text appended to an existing message.
type MessageUpdated struct {
	ID    string
	Delta string
}

// MessageReplaced reports an in-place replacement, typically a
// streaming placeholder finalized under its server id.
type MessageReplaced struct {
	OldID   string
	Message ChatMessage
}

func (ActiveChanged) storeEvent()   {}
func (ListChanged) storeEvent()     {}
func (LoadingChanged) storeEvent()  {}
func (MessageAdded) storeEvent()    {}
func (MessageUpdated) storeEvent()  {}
func (MessageReplaced) storeEvent() {}

// Store is the single source of truth for conversation state. All
// mutation goes through its named entry points; readers get copies.
// Loaded logs of inactive conversations are parked in an LRU so
// switching back does not always refetch; the active log is pinned
// outside the cache.
type Store struct {
	log *logger.Logger

	mu             sync.Mutex
	activeID       string
	messages       []ChatMessage
	historyLoaded  bool
	loadingHistory bool
	list           []ListEntry
	loading        LoadingState
	parked         *lru.Cache[string, []ChatMessage]

	events chan StoreEvent
}

// NewStore creates an empty store. cacheSize bounds the number of
// parked inactive logs.
func NewStore(cacheSize int, log *logger.Logger) *Store {
	if cacheSize < 1 {
		cacheSize = 16
	}
	parked, _ := lru.New[string, []ChatMessage](cacheSize)

	return &Store{
		log:     log.WithComponent("conversation-store"),
		loading: LoadingState{Step: StepIdle},
		parked:  parked,
		events:  make(chan StoreEvent, 256),
	}
}

// Events returns the single consumer channel of store notifications.
func (s *Store) Events() <-chan StoreEvent {
	return s.events
}

// SetActiveConversation switches the active conversation. The previous
// log is parked when fully loaded; a parked log for the new id is
// restored, otherwise the log starts empty with history not yet
// loaded. historyLoaded always resets per activation.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	if id == s.activeID {
		s.mu.Unlock()
		return
	}

	if s.activeID != "" && s.historyLoaded {
		s.parked.Add(s.activeID, s.messages)
	}

	s.activeID = id
	s.loadingHistory = false

	if cached, hit := s.parked.Get(id); id != "" && hit {
		s.messages = cached
		s.historyLoaded = true
	} else {
		s.messages = nil
		s.historyLoaded = false
	}
	s.mu.Unlock()

	s.log.Debug("active conversation changed", slog.String("conversation_id", id))
	s.emit(ActiveChanged{ID: id})
}

// ActiveConversation returns the active id, empty for a live session.
func (s *Store) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Messages returns a copy of the active log.
func (s *Store) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastMessage returns the newest message of the active log.
func (s *Store) LastMessage() (ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ChatMessage{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// AppendMessage appends to the active log.
func (s *Store) AppendMessage(msg ChatMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.emit(MessageAdded{Message: msg})
}

// AppendToMessage appends text to the message with the given id.
// Returns false when the id is no longer present, which happens after
// a cancel or finalize raced with paced delivery.
func (s *Store) AppendToMessage(id, text string) bool {
	s.mu.Lock()
	found := false
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Message += text
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.emit(MessageUpdated{ID: id, Delta: text})
	}
	return found
}

// ReplaceMessage swaps the message with oldID for msg, in place, so
// the log position of a streaming placeholder is kept.
func (s *Store) ReplaceMessage(oldID string, msg ChatMessage) bool {
	s.mu.Lock()
	found := false
	for i := range s.messages {
		if s.messages[i].ID == oldID {
			s.messages[i] = msg
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.emit(MessageReplaced{OldID: oldID, Message: msg})
	}
	return found
}

// SetConversationList replaces the list. Server order is preserved,
// never re-sorted locally.
func (s *Store) SetConversationList(entries []ListEntry) {
	copied := make([]ListEntry, len(entries))
	copy(copied, entries)

	s.mu.Lock()
	s.list = copied
	s.mu.Unlock()

	s.emit(ListChanged{Entries: copied})
}

// List returns a copy of the conversation list.
func (s *Store) List() []ListEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ListEntry, len(s.list))
	copy(out, s.list)
	return out
}

// InList reports whether the list contains the id.
func (s *Store) InList(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.list {
		if entry.ID == id {
			return true
		}
	}
	return false
}

// SetLoadingHistory flags an in-flight history fetch for the active
// conversation. Distinct from historyLoaded, which says the fetch has
// completed for the current activation.
func (s *Store) SetLoadingHistory(loading bool) {
	s.mu.Lock()
	s.loadingHistory = loading
	s.mu.Unlock()
}

// IsLoadingHistory reports an in-flight history fetch.
func (s *Store) IsLoadingHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingHistory
}

// MarkHistoryLoaded installs a fetched log for the active conversation
// and clears the in-flight flag.
func (s *Store) MarkHistoryLoaded(messages []ChatMessage) {
	s.mu.Lock()
	s.messages = messages
	s.historyLoaded = true
	s.loadingHistory = false
	s.mu.Unlock()
}

// HistoryLoaded reports whether the active conversation's history has
// been loaded during the current activation.
func (s *Store) HistoryLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLoaded
}

// SetLoading replaces the loading indicator.
func (s *Store) SetLoading(state LoadingState) {
	s.mu.Lock()
	if s.loading == state {
		s.mu.Unlock()
		return
	}
	s.loading = state
	s.mu.Unlock()

	s.emit(LoadingChanged{State: state})
}

// Loading returns the current loading indicator.
func (s *Store) Loading() LoadingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) emit(ev StoreEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("store event channel full, dropping event")
	}
}
