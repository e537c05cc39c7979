package main

import (
	"clinic-chat/auth"
	"clinic-chat/domain"
	"clinic-chat/infrastructure/grpc/server"
	"clinic-chat/infrastructure/grpc/wire"
	"clinic-chat/infrastructure/rest"
	"clinic-chat/internal"
	"clinic-chat/moderation"
	"clinic-chat/repositories"
	"clinic-chat/runtime"
	"clinic-chat/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"google.golang.org/grpc"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dev hub terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the development hub: the ChatHub gRPC service and the REST
// conversation backend over one badger store.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	demoProfiles, err := config.DemoProfiles()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(ctx, config, log))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Repositories & services
	profileRepository := repositories.NewProfileRepository(db)
	for _, profile := range demoProfiles {
		if err = profileRepository.SaveProfile(profile); err != nil {
			return exitRuntime, fmt.Errorf("seeding profile %s: %w", profile.UserID, err)
		}
	}
	moderator, err := moderation.NewModerator(internal.SplitList(config.CensoredWords), charReplacement)
	if err != nil {
		return exitConfig, fmt.Errorf("moderation dictionary: %w", err)
	}
	registry := runtime.NewRegistry()
	hubService := services.NewHubService(log,
		repositories.NewMessageRepository(db, log, config.LimitMessages),
		repositories.NewConversationRepository(db),
		profileRepository,
		registry,
		moderator,
	)
	issuer := auth.NewIssuer(config.JwtSecret, config.AuthTokenDuration)

	// 4. gRPC ChatHub
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			sdkgrpc.UnaryLoggingInterceptor(log),
			issuer.UnaryInterceptor,
		),
		grpc.StreamInterceptor(issuer.StreamInterceptor),
	)
	wire.RegisterHubServer(s, server.NewHubServer(log, hubService, config.ConnectionBufferSize, config.DeliveryTimeout))

	// 5. REST backend
	router := mux.NewRouter()
	router.HandleFunc("/debug/inspect", internal.InspectHandler(db, nil, registry.Stats)).Methods(http.MethodGet)
	router.PathPrefix("/conversations/").Handler(rest.NewConversationServer(log, hubService, issuer).Router())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.HttpPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting gRPC hub", "address", grpcAddress, "at", time.Now().UTC())
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		log.Info("Starting REST backend", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if err = printDemoTokens(issuer, demoProfiles); err != nil {
		return exitRuntime, err
	}

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 7. Final Cleanup
	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	s.GracefulStop()
	log.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(ctx context.Context, config Config, log *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if log.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}

// printDemoTokens mints a token per demo user so chat clients can log in.
func printDemoTokens(issuer auth.Issuer, profiles []repositories.Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"User", "Role", "Name", "CHAT_TOKEN"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, profile := range profiles {
		token, err := issuer.GenerateToken(domain.Session{
			UserID:      profile.UserID,
			Role:        profile.Role,
			DisplayName: profile.Name,
			Email:       profile.Email,
		})
		if err != nil {
			return fmt.Errorf("minting token for %s: %w", profile.UserID, err)
		}
		table.Append([]string{profile.UserID, string(profile.Role), profile.Name, token})
	}
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render("  ====== Demo users ======"))
	table.Render()
	return nil
}
