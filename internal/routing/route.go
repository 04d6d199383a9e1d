package routing

import (
	"net/url"
	"strings"
)

// View paths of the assistant surface. The chat path carries the id
// query parameter only when a persisted conversation is open; a live
// session stays parameterless. The history path never carries an id.
const (
	PathChat    = "/chat"
	PathHistory = "/history"
)

const idParam = "id"

// Route is the synchronizer's view of the current location: a path
// and the conversation id parameter, when present.
type Route struct {
	Path           string
	ConversationID string
}

// ChatRoute builds the chat route for a conversation id; empty id
// means the live session.
func ChatRoute(conversationID string) Route {
	return Route{Path: PathChat, ConversationID: conversationID}
}

// HistoryRoute builds the history view route.
func HistoryRoute() Route {
	return Route{Path: PathHistory}
}

// String renders the route as a path with query.
func (r Route) String() string {
	if r.ConversationID == "" {
		return r.Path
	}
	return r.Path + "?" + idParam + "=" + url.QueryEscape(r.ConversationID)
}

// ParseRoute parses a rendered route. The id parameter is dropped on
// non-chat paths, which must never carry one.
func ParseRoute(raw string) (Route, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Route{}, err
	}

	route := Route{Path: parsed.Path}
	if route.Path == "" {
		route.Path = PathChat
	}
	if strings.HasPrefix(route.Path, PathChat) {
		route.ConversationID = parsed.Query().Get(idParam)
	}
	return route, nil
}

// Navigator applies route changes to the host surface. Replace swaps
// the current location without a history entry; Push adds one.
type Navigator interface {
	Replace(route Route)
	Push(route Route)
}
