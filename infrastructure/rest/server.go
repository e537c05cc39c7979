package rest

import (
	"clinic-chat/auth"
	"clinic-chat/errors"
	"clinic-chat/infrastructure/grpc/wire"
	"clinic-chat/services"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// ConversationServer is the REST side of the dev hub: the conversation
// directory and its read markers.
type ConversationServer struct {
	log        *slog.Logger
	hubService services.IHubService
	issuer     auth.Issuer
}

func NewConversationServer(log *slog.Logger, hubService services.IHubService, issuer auth.Issuer) *ConversationServer {
	return &ConversationServer{log: log, hubService: hubService, issuer: issuer}
}

// Router wires the routes behind the bearer middleware.
func (s *ConversationServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)
	r.HandleFunc("/conversations/{userId}", s.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/mark-read/{userId}", s.markRead).Methods(http.MethodPut)
	return r
}

func (s *ConversationServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.fail(w, r, fmt.Errorf("%w: bearer token is missing", errors.ErrUnauthenticated))
			return
		}
		claims, err := s.issuer.ValidateToken(token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// authorize checks the path user against the token.
func authorize(r *http.Request) (string, error) {
	userID := mux.Vars(r)["userId"]
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return "", errors.ErrUnauthenticated
	}
	if claims.UserID != userID {
		return "", fmt.Errorf("%w: %s cannot act as %s", errors.ErrForbidden, claims.UserID, userID)
	}
	return userID, nil
}

func (s *ConversationServer) listConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := authorize(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conversations, err := s.hubService.ListConversations(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(wire.FromConversations(conversations)); err != nil {
		s.log.Warn("Failed to write conversations", "user_id", userID, "error", err)
	}
}

func (s *ConversationServer) markRead(w http.ResponseWriter, r *http.Request) {
	userID, err := authorize(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err = s.hubService.MarkRead(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *ConversationServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	http.Error(w, err.Error(), code)
}
