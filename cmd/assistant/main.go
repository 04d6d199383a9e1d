package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/confdex/assistant-client/internal/api"
	"github.com/confdex/assistant-client/internal/config"
	"github.com/confdex/assistant-client/internal/conversation"
	"github.com/confdex/assistant-client/internal/lifecycle"
	"github.com/confdex/assistant-client/internal/logger"
	"github.com/confdex/assistant-client/internal/realtime"
	"github.com/confdex/assistant-client/internal/routing"
	"github.com/confdex/assistant-client/internal/stream"
)

// consoleNavigator is the terminal's route surface: it tracks the
// current location and echoes every write back as an observation, the
// way a host router would.
type consoleNavigator struct {
	mu           sync.Mutex
	current      routing.Route
	observations chan routing.Route
}

func newConsoleNavigator() *consoleNavigator {
	return &consoleNavigator{
		current:      routing.ChatRoute(""),
		observations: make(chan routing.Route, 16),
	}
}

func (n *consoleNavigator) apply(route routing.Route) {
	n.mu.Lock()
	n.current = route
	n.mu.Unlock()

	select {
	case n.observations <- route:
	default:
	}
}

func (n *consoleNavigator) Replace(route routing.Route) { n.apply(route) }
func (n *consoleNavigator) Push(route routing.Route)    { n.apply(route) }

func (n *consoleNavigator) Current() routing.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// consoleOpener prints navigation targets instead of opening a
// browser.
type consoleOpener struct{}

func (consoleOpener) OpenURL(target string) error {
	fmt.Printf("\n[open] %s\n", target)
	return nil
}

// consoleConfirmer surfaces pending email sends; the terminal build
// only displays them, it never approves.
type consoleConfirmer struct{}

func (consoleConfirmer) ConfirmEmailSend(payload map[string]interface{}) {
	to, _ := payload["to"].(string)
	fmt.Printf("\n[confirm] outbound email to %s awaiting approval (use the web surface to confirm)\n", to)
}

type app struct {
	ctx    context.Context
	cfg    *config.Config
	log    *logger.Logger
	api    *api.Client
	store  *conversation.Store
	router *conversation.Router
	mgr    *realtime.Manager
	sync   *routing.Synchronizer
	nav    *consoleNavigator
	coord  *lifecycle.Coordinator
}

func main() {
	cfg := config.Load()
	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiClient := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, log)
	store := conversation.NewStore(cfg.HistoryCacheSize, log)
	nav := newConsoleNavigator()

	mgr := realtime.NewManager(realtime.Options{
		SocketURL:       cfg.SocketURL,
		MaxAttempts:     cfg.ReconnectMaxAttempts,
		InitialInterval: cfg.ReconnectInitialInterval,
		MaxInterval:     cfg.ReconnectMaxInterval,
	}, log)

	router := conversation.NewRouter(store, mgr.Fatal(), conversation.RouterOptions{
		WebBaseURL:        cfg.WebBaseURL,
		Locale:            cfg.Locale,
		AnimatorInterval:  cfg.AnimatorInterval,
		AnimatorChunkSize: cfg.AnimatorChunkSize,
		Opener:            consoleOpener{},
		Confirmer:         consoleConfirmer{},
	}, log)

	a := &app{
		ctx:    ctx,
		cfg:    cfg,
		log:    log.WithComponent("assistant"),
		api:    apiClient,
		store:  store,
		router: router,
		mgr:    mgr,
		sync:   routing.NewSynchronizer(log),
		nav:    nav,
		coord:  lifecycle.NewCoordinator(store, apiClient, nav, cfg.DeleteConfirmTimeout, log),
	}

	go a.eventLoop()

	if cfg.AuthToken != "" {
		apiClient.SetCredential(cfg.AuthToken)
		if err := mgr.Connect(cfg.AuthToken); err != nil {
			a.log.Error("initial connect failed", slog.String("error", err.Error()))
		}
	} else {
		fmt.Println("No credential configured; use /login <token>.")
	}

	a.repl()

	mgr.Disconnect()
}

// eventLoop is the single consumer of every event source; the route
// synchronizer is only touched here.
func (a *app) eventLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.mgr.Events():
			a.handleRealtime(ev)
		case ev := <-a.store.Events():
			a.handleStore(ev)
		case route := <-a.nav.observations:
			a.applyCommands(a.sync.ReduceRoute(route, a.store.ActiveConversation()))
		}
	}
}

func (a *app) handleRealtime(ev realtime.Event) {
	a.router.HandleConnectionEvent(ev)

	switch event := ev.(type) {
	case realtime.Ready:
		fmt.Printf("\n[connected] signed in as %s\n", event.Email)
		a.applyCommands(a.sync.SetReady(true))
	case realtime.StateChanged:
		if event.State != realtime.StateConnected && event.State != realtime.StateConnecting {
			a.sync.SetReady(false)
		}
	}
}

func (a *app) handleStore(ev conversation.StoreEvent) {
	switch event := ev.(type) {
	case conversation.ActiveChanged:
		a.router.HandleActiveChanged()
		a.applyCommands(a.sync.ReduceActiveChanged(event.ID))
	case conversation.ListChanged:
		a.coord.HandleListChanged(event.Entries)
	case conversation.MessageAdded:
		a.renderAdded(event.Message)
	case conversation.MessageUpdated:
		fmt.Print(event.Delta)
	case conversation.MessageReplaced:
		a.renderFinal(event.Message)
	case conversation.LoadingChanged:
		a.renderLoading(event.State)
	}
}

func (a *app) applyCommands(cmds routing.Commands) {
	if cmds.ReplaceRoute != nil {
		a.nav.Replace(*cmds.ReplaceRoute)
	}
	if cmds.SetActive != nil {
		a.store.SetActiveConversation(*cmds.SetActive)
	}
	if cmds.LoadConversation != "" {
		go a.loadHistory(cmds.LoadConversation)
	}
}

// loadHistory fetches a persisted log and installs it if the
// conversation is still the active one by the time it arrives.
func (a *app) loadHistory(id string) {
	ctx := logger.WithOperation(logger.WithConversationID(a.ctx, id), "load_history")
	a.store.SetLoadingHistory(true)

	detail, err := a.api.GetConversation(ctx, id)
	if err != nil {
		a.store.SetLoadingHistory(false)
		a.log.LogError(ctx, err, "history load failed")
		a.coord.HandleLoadFailure(id, err)
		return
	}

	messages := make([]conversation.ChatMessage, 0, len(detail.Messages))
	for _, stored := range detail.Messages {
		messages = append(messages, conversation.ChatMessage{
			ID:       stored.ID,
			IsUser:   stored.Role == "user",
			Type:     conversation.TypeText,
			Message:  stored.Message,
			Thoughts: stored.Thoughts,
		})
	}

	if a.store.ActiveConversation() != id {
		// Switched away while loading; drop the stale result.
		a.store.SetLoadingHistory(false)
		return
	}
	a.store.MarkHistoryLoaded(messages)

	fmt.Printf("\n--- %s ---\n", detail.Title)
	for _, msg := range messages {
		a.renderAdded(msg)
		fmt.Println()
	}
}

// send posts one user turn and pumps the response stream through the
// router under a fresh response id.
func (a *app) send(text string) {
	history := conversation.History(a.store.Messages())

	a.store.AppendMessage(conversation.ChatMessage{
		ID:      uuid.NewString(),
		IsUser:  true,
		Type:    conversation.TypeText,
		Message: text,
	})
	a.store.SetLoading(conversation.LoadingState{IsLoading: true, Step: conversation.StepPreparingMessage})

	responseID := uuid.NewString()
	request := api.ChatRequest{
		ConversationID: a.store.ActiveConversation(),
		UserInput:      text,
		History:        history,
	}

	ctx := logger.WithRequestID(a.ctx, logger.GenerateRequestID())
	ctx = logger.WithConversationID(ctx, request.ConversationID)
	ctx = logger.WithOperation(ctx, "send_message")

	go func() {
		body, err := a.api.StreamChat(ctx, request)
		if err != nil {
			a.log.LogError(ctx, err, "chat request failed")
			a.router.HandleFrame(responseID, stream.ErrorUpdate{
				Message:  err.Error(),
				Severity: stream.SeverityError,
			})
			return
		}
		defer body.Close()

		parser := stream.NewParser(a.log.WithContext(ctx), nil)
		err = parser.Run(ctx, body, func(ev stream.Event) {
			a.router.HandleFrame(responseID, ev)
		})
		if err != nil {
			a.log.LogError(ctx, err, "response stream interrupted")
			a.router.HandleFrame(responseID, stream.ErrorUpdate{
				Message:  "The response stream was interrupted.",
				Severity: stream.SeverityError,
			})
		}
	}()
}

func (a *app) renderAdded(msg conversation.ChatMessage) {
	switch {
	case msg.IsUser:
		// Already visible as the typed line.
	case msg.Type == conversation.TypeError:
		fmt.Printf("\n[error] %s\n", msg.Message)
	case msg.Type == conversation.TypeWarning:
		fmt.Printf("\n[warning] %s\n", msg.Message)
	default:
		fmt.Printf("\nassistant> %s", msg.Message)
	}
}

func (a *app) renderFinal(msg conversation.ChatMessage) {
	fmt.Println()
	if msg.Type == conversation.TypeMap {
		fmt.Printf("[map] %s\n", msg.Location)
	}
}

func (a *app) renderLoading(state conversation.LoadingState) {
	switch state.Step {
	case conversation.StepIdle, conversation.StepStreamingResponse, conversation.StepResultReceived:
		// Quiet steps; the text itself is the feedback.
	default:
		if state.Message != "" {
			fmt.Printf("\n· %s: %s\n", state.Step, state.Message)
		} else {
			fmt.Printf("\n· %s\n", state.Step)
		}
	}
}

func (a *app) repl() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		if a.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/list":
			for _, entry := range a.store.List() {
				fmt.Printf("  %s  %s\n", entry.ID, entry.Title)
			}
		case line == "/history":
			a.nav.Push(routing.HistoryRoute())
		case line == "/new":
			a.nav.Push(routing.ChatRoute(""))
		case strings.HasPrefix(line, "/open "):
			a.nav.Push(routing.ChatRoute(strings.TrimSpace(strings.TrimPrefix(line, "/open "))))
		case strings.HasPrefix(line, "/delete "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
			if err := a.coord.Delete(a.ctx, id); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
		case strings.HasPrefix(line, "/login "):
			token := strings.TrimSpace(strings.TrimPrefix(line, "/login "))
			a.api.SetCredential(token)
			if err := a.mgr.UpdateCredential(token); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
		case line == "/logout":
			a.api.SetCredential("")
			a.mgr.UpdateCredential("")
		case strings.HasPrefix(line, "/"):
			fmt.Println("commands: /list /open <id> /new /history /delete <id> /login <token> /logout /quit")
		default:
			a.send(line)
		}
		fmt.Print("> ")
	}
}
