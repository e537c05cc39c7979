package e2e

import (
	"clinic-chat/auth"
	"clinic-chat/domain"
	"clinic-chat/infrastructure/grpc/client"
	"clinic-chat/infrastructure/grpc/server"
	"clinic-chat/infrastructure/grpc/wire"
	"clinic-chat/infrastructure/rest"
	"clinic-chat/moderation"
	"clinic-chat/repositories"
	"clinic-chat/runtime"
	"clinic-chat/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	patient = domain.Session{UserID: "p1", Role: domain.RolePatient, DisplayName: "Nguyen An", Email: "an@mail.vn"}
	doctor  = domain.Session{UserID: "d1", Role: domain.RoleDoctor, DisplayName: "Dr. Lan", Email: "lan@clinic.vn"}
)

// Participant is one logged-in chat client.
type Participant struct {
	Session    domain.Session
	Tokens     *auth.TokenStore
	Connection *runtime.ConnectionManager
	Service    *services.SessionService
}

type BaseHubSuite struct {
	suite.Suite
	Config  Config
	Issuer  auth.Issuer
	hubAddr string
	apiURL  string
	cleanup []func()
}

// SetupSuite loads the environment configuration and starts a hub unless one is given.
func (s *BaseHubSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.Issuer = auth.NewIssuer(s.Config.JwtSecret, time.Hour)
	s.hubAddr, s.apiURL = s.Config.HubAddr, s.Config.ApiURL
	if s.hubAddr == "" || s.apiURL == "" {
		s.startHub()
	}
}

func (s *BaseHubSuite) TearDownSuite() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// startHub runs the dev hub in-process over loopback.
func (s *BaseHubSuite) startHub() {
	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	dir, err := os.MkdirTemp("", "clinic-chat-e2e-*")
	s.Require().NoError(err)
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)
	s.cleanup = append(s.cleanup, func() {
		_ = db.Close()
		_ = os.RemoveAll(dir)
	})

	profiles := repositories.NewProfileRepository(db)
	for _, session := range []domain.Session{patient, doctor} {
		s.Require().NoError(profiles.SaveProfile(repositories.Profile{
			UserID: session.UserID, Role: session.Role, Name: session.DisplayName, Email: session.Email,
		}))
	}
	moderator, err := moderation.NewModerator([]string{"scam"}, '*')
	s.Require().NoError(err)
	hubService := services.NewHubService(log,
		repositories.NewMessageRepository(db, log, nil),
		repositories.NewConversationRepository(db),
		profiles,
		runtime.NewRegistry(),
		moderator,
	)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(s.Issuer.UnaryInterceptor),
		grpc.StreamInterceptor(s.Issuer.StreamInterceptor),
	)
	wire.RegisterHubServer(grpcServer, server.NewHubServer(log, hubService, 64, time.Second))
	go func() {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("e2e hub stopped", "error", err)
		}
	}()
	httpServer := httptest.NewServer(rest.NewConversationServer(log, hubService, s.Issuer).Router())
	s.cleanup = append(s.cleanup, grpcServer.Stop, httpServer.Close)

	s.hubAddr, s.apiURL = listener.Addr().String(), httpServer.URL
}

// Step prints a colorized header for a scenario step.
func (s *BaseHubSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Token mints the bearer token the clinic backend would hand out.
func (s *BaseHubSuite) Token(session domain.Session) string {
	token, err := s.Issuer.GenerateToken(session)
	s.Require().NoError(err)
	return token
}

// Login builds a full client for session, not yet connected.
func (s *BaseHubSuite) Login(session domain.Session) *Participant {
	log := logs.GetLoggerFromLevel(slog.LevelInfo).With("participant", session.UserID)
	tokens := auth.NewTokenStore()
	_, err := tokens.Login(s.Token(session))
	s.Require().NoError(err)

	dial := func(creds credentials.PerRPCCredentials) (*grpc.ClientConn, error) {
		return client.Dial(s.hubAddr, creds, client.DialConfig{
			Options: []grpc.DialOption{grpc.WithChainUnaryInterceptor(s.logCalls(session.UserID))},
		}, log)
	}
	connection := runtime.NewConnectionManager(log, dial, runtime.ConnectionConfig{
		ConnectTimeout:  5 * time.Second,
		ReconnectWindow: 10 * time.Second,
	})
	api := rest.NewConversationClient(log, s.apiURL, tokens.Credential, nil)
	service := services.NewSessionService(log, tokens, connection, api, services.SessionConfig{
		HistoryTimeout: 5 * time.Second,
		RefreshTimeout: 5 * time.Second,
	})
	s.cleanup = append(s.cleanup, service.Close)
	return &Participant{Session: session, Tokens: tokens, Connection: connection, Service: service}
}

// WithHub provides a raw hub client acting as session within a contextual test step.
func (s *BaseHubSuite) WithHub(name string, session domain.Session, fn func(ctx context.Context, hub *client.HubClient)) {
	s.Step(name)
	token := s.Token(session)
	conn, err := client.Dial(s.hubAddr, auth.BearerCredentials{Token: func(context.Context) (string, error) { return token, nil }},
		client.DialConfig{Options: []grpc.DialOption{grpc.WithChainUnaryInterceptor(s.logCalls(session.UserID))}},
		logs.GetLoggerFromLevel(slog.LevelInfo))
	s.Require().NoError(err)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, client.NewHubClient(conn))
}

// logCalls logs every unary hub call and, with E2E_DEBUG_JSON, its documents.
func (s *BaseHubSuite) logCalls(who string) grpc.UnaryClientInterceptor {
	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		Multiline:       true,
		EmitUnpopulated: true,
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)

		logBuilder := strings.Builder{}
		fmt.Fprintf(&logBuilder, "GRPC %s %s [%s] in %v", who, method, status.Code(err), time.Since(start))
		if s.Config.DebugJSON {
			fmt.Fprintln(&logBuilder, "\nREQUEST:")
			fmt.Fprintln(&logBuilder, marshaler.Format(req.(proto.Message)))
			if err != nil {
				fmt.Fprintln(&logBuilder, "ERROR:", err)
			} else {
				fmt.Fprintln(&logBuilder, "RESPONSE:")
				fmt.Fprintln(&logBuilder, marshaler.Format(reply.(proto.Message)))
			}
		}
		s.T().Log(logBuilder.String())
		return err
	}
}
