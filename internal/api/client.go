package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/confdex/assistant-client/internal/apperrors"
	"github.com/confdex/assistant-client/internal/logger"
)

// HistoryItem is one prior turn included in a chat request body.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a streaming chat request.
type ChatRequest struct {
	ConversationID string        `json:"conversationId,omitempty"`
	UserInput      string        `json:"userInput"`
	History        []HistoryItem `json:"history"`
}

// ConversationRecord is one entry of the persisted conversation list.
type ConversationRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// StoredMessage is one persisted turn of a conversation log.
type StoredMessage struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Message  string `json:"message"`
	Thoughts string `json:"thoughts,omitempty"`
}

// ConversationDetail is a full persisted conversation.
type ConversationDetail struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Messages []StoredMessage `json:"messages"`
}

// Client talks to the assistant backend: a streaming chat endpoint and
// a small conversation CRUD surface. The CRUD calls run behind a
// circuit breaker so a failing backend is not hammered during
// reconnect storms; the chat stream bypasses it because a single
// long-lived response says nothing about backend health.
type Client struct {
	baseURL string
	rest    *http.Client
	stream  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger

	mu         sync.Mutex
	credential string
}

// NewClient creates a backend client. requestTimeout bounds the CRUD
// calls only; the chat stream is bounded by its context.
func NewClient(baseURL string, requestTimeout time.Duration, log *logger.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "assistant-backend",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		rest:    &http.Client{Timeout: requestTimeout},
		stream:  &http.Client{},
		breaker: breaker,
		log:     log.WithComponent("api-client"),
	}
}

// SetCredential rebinds the bearer credential used on every request.
func (c *Client) SetCredential(credential string) {
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// StreamChat posts a chat turn and returns the server's event stream.
// The caller owns the returned body and must close it.
func (c *Client) StreamChat(ctx context.Context, chatReq ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/assistant/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient("chat request", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp)
		c.log.Error("chat request rejected",
			slog.Int("status_code", resp.StatusCode),
			slog.String("message", msg))
		return nil, classifyStatus(resp.StatusCode, msg)
	}

	return resp.Body, nil
}

// ListConversations fetches the persisted conversation list. Server
// order is preserved.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationRecord, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := c.newRequest(ctx, http.MethodGet, "/assistant/conversations", nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.rest.Do(req)
		if err != nil {
			return nil, apperrors.NewTransient("list conversations", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp))
		}

		var records []ConversationRecord
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode conversation list: %w", err)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]ConversationRecord), nil
}

// GetConversation fetches one persisted conversation log. A missing
// conversation is reported as apperrors.ErrNotFound, not a transport
// failure.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := c.newRequest(ctx, http.MethodGet, "/assistant/conversations/"+id, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.rest.Do(req)
		if err != nil {
			return nil, apperrors.NewTransient("get conversation", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp))
		}

		var detail ConversationDetail
		if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		return &detail, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ConversationDetail), nil
}

// DeleteConversation requests a deletion. Completion is confirmed out
// of band by a list push that no longer contains the id.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := c.newRequest(ctx, http.MethodDelete, "/assistant/conversations/"+id, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.rest.Do(req)
		if err != nil {
			return nil, apperrors.NewTransient("delete conversation", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp))
		}
		return nil, nil
	})
	return err
}

// readErrorMessage extracts a human-readable message from an error
// response: the JSON message/error field when the body is JSON, the
// raw text otherwise.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return resp.Status
	}

	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func classifyStatus(statusCode int, msg string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewAuthError(msg)
	default:
		return fmt.Errorf("backend returned status %d: %s", statusCode, msg)
	}
}
