package rest

import (
	"clinic-chat/auth"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/infrastructure/grpc/wire"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const maxBodySize = 1 << 20

// ConversationClient reads the conversation directory from the REST backend.
type ConversationClient struct {
	log        *slog.Logger
	baseURL    string
	credential auth.CredentialFunc
	httpClient *http.Client
}

func NewConversationClient(log *slog.Logger, baseURL string, credential auth.CredentialFunc, httpClient *http.Client) *ConversationClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ConversationClient{
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: httpClient,
	}
}

func (c *ConversationClient) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(userID))
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	conversations, err := wire.DecodeConversations(body)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return conversations, nil
}

func (c *ConversationClient) MarkRead(ctx context.Context, conversationID, userID string) error {
	path := fmt.Sprintf("/conversations/%s/mark-read/%s", url.PathEscape(conversationID), url.PathEscape(userID))
	if _, err := c.do(ctx, http.MethodPut, path); err != nil {
		return fmt.Errorf("marking %s read: %w", conversationID, err)
	}
	return nil
}

func (c *ConversationClient) do(ctx context.Context, method, path string) ([]byte, error) {
	token, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		c.log.Debug("Backend refused request", "method", method, "path", path, "status", response.StatusCode)
		return nil, errors.FromHTTPStatus(response.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
