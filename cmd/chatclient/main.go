package main

import (
	"bufio"
	"clinic-chat/auth"
	"clinic-chat/domain"
	"clinic-chat/infrastructure/grpc/client"
	"clinic-chat/infrastructure/rest"
	"clinic-chat/projection"
	"clinic-chat/runtime"
	"clinic-chat/services"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const help = `/list            conversations, most recent first
/open <# or id>  open a conversation
/retry           reload a history that failed
/refresh         reload the conversation list
/connect         connect again after the hub was unreachable
/logout          forget the token and disconnect
/quit            leave
anything else is sent to the open conversation`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Session
	tokenStore := auth.NewTokenStore()
	session, err := tokenStore.Login(config.Token)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	// 3. Hub connection & REST backend
	dial := func(creds credentials.PerRPCCredentials) (*grpc.ClientConn, error) {
		return client.Dial(config.HubAddr, creds, client.DialConfig{DebugCalls: config.DebugHubCalls}, log)
	}
	connection := runtime.NewConnectionManager(log, dial, runtime.ConnectionConfig{
		ConnectTimeout:  config.ConnectTimeout,
		ReconnectWindow: config.ReconnectWindow,
	})
	api := rest.NewConversationClient(log, config.ApiURL, tokenStore.Credential, &http.Client{Timeout: config.RefreshTimeout})
	sessionService := services.NewSessionService(log, tokenStore, connection, api, services.SessionConfig{
		HistoryTimeout: config.HistoryTimeout,
		RefreshTimeout: config.RefreshTimeout,
	})
	defer sessionService.Close()

	out := &syncWriter{w: os.Stdout}
	timeline := &timelinePrinter{out: out, selfID: session.UserID}
	unsubscribeStatus := sessionService.OnStatus(func(status projection.Status) { renderStatus(out, status) })
	defer unsubscribeStatus()
	unsubscribeTimeline := sessionService.OnTimeline(timeline.print)
	defer unsubscribeTimeline()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Logged in as %s (%s)\n", session.DisplayName, session.Role)
	listed := connect(ctx, out, sessionService)
	fmt.Fprintln(out, help)

	// 4. Prompt
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd := parseCommand(line)
			switch cmd.name {
			case "quit":
				return nil
			case "list":
				listed = sessionService.Conversations()
				renderConversations(out, listed)
			case "open":
				err = sessionService.Select(ctx, resolveConversation(cmd.arg, listed))
			case "retry":
				err = sessionService.Retry(ctx)
			case "refresh":
				err = sessionService.Refresh(ctx)
			case "connect":
				listed = connect(ctx, out, sessionService)
			case "logout":
				tokenStore.Logout()
				fmt.Fprintln(out, "Logged out")
				return nil
			case "send":
				err = sessionService.Send(ctx, cmd.arg)
			default:
				fmt.Fprintln(out, help)
			}
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				err = nil
			}
		}
	}
}

type connector interface {
	Connect(ctx context.Context) error
	Conversations() []domain.Conversation
}

// connect reports a failure instead of leaving: the status line already
// shows Offline and the prompt stays usable until /connect succeeds.
func connect(ctx context.Context, out io.Writer, session connector) []domain.Conversation {
	if err := session.Connect(ctx); err != nil {
		fmt.Fprintf(out, "! hub unreachable: %v (/connect to try again)\n", err)
		return nil
	}
	listed := session.Conversations()
	renderConversations(out, listed)
	return listed
}

// syncWriter serializes output from observers and the prompt.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// timelinePrinter prints each message of the open conversation once.
type timelinePrinter struct {
	mu             sync.Mutex
	out            io.Writer
	selfID         string
	conversationID string
	printed        []domain.Message
}

func (p *timelinePrinter) print(view projection.TimelineView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if view.Conversation == nil {
		return
	}
	if view.Conversation.ID != p.conversationID {
		p.conversationID = view.Conversation.ID
		p.printed = nil
		fmt.Fprintf(p.out, "--- %s ---\n", view.Conversation.Counterpart.Name)
	}
	if view.Loading {
		return
	}
	if view.Err != nil {
		fmt.Fprintf(p.out, "! history unavailable: %v (/retry)\n", view.Err)
		return
	}
	for _, message := range view.Messages {
		if lo.ContainsBy(p.printed, message.Same) {
			continue
		}
		p.printed = append(p.printed, message)
		renderMessage(p.out, p.selfID, message)
	}
}
