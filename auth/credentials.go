package auth

import (
	"context"
)

// CredentialFunc returns the bearer token to attach to an outgoing call.
type CredentialFunc func(ctx context.Context) (string, error)

// BearerCredentials implements credentials.PerRPCCredentials for the hub connection.
// It asks for the token on every call so a refreshed login is picked up without redialing.
type BearerCredentials struct {
	Token  CredentialFunc
	Secure bool
}

func (b BearerCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, err := b.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

func (b BearerCredentials) RequireTransportSecurity() bool {
	return b.Secure
}
