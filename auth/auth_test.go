package auth

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var doctor = domain.Session{UserID: "d-42", Role: domain.RoleDoctor, DisplayName: "Dr. Lan", Email: "lan@clinic.vn"}

func TestIssuer_GenerateAndValidate(t *testing.T) {
	req := require.New(t)
	issuer := NewIssuer("a-long-enough-secret-for-tests", time.Hour)

	token, err := issuer.GenerateToken(doctor)
	req.NoError(err)

	claims, err := issuer.ValidateToken(token)
	req.NoError(err)
	req.Equal(doctor, claims.Session())

	// A token signed with another secret is rejected
	_, err = NewIssuer("another-secret", time.Hour).ValidateToken(token)
	req.ErrorIs(err, errors.ErrInvalidToken)
}

func TestIssuer_ExpiredToken(t *testing.T) {
	issuer := NewIssuer("a-long-enough-secret-for-tests", -time.Minute)
	token, err := issuer.GenerateToken(doctor)
	require.NoError(t, err)

	_, err = issuer.ValidateToken(token)
	require.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestSessionFromToken(t *testing.T) {
	req := require.New(t)
	token, err := NewIssuer("whatever", time.Hour).GenerateToken(doctor)
	req.NoError(err)

	// The client decodes without knowing the secret
	session, expiresAt, err := SessionFromToken(token)
	req.NoError(err)
	req.Equal(doctor, session)
	req.WithinDuration(time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	_, _, err = SessionFromToken("not-a-jwt")
	req.ErrorIs(err, errors.ErrInvalidToken)

	// A token without a known role is not a chat session
	noRole, err := NewIssuer("whatever", time.Hour).GenerateToken(domain.Session{UserID: "u1"})
	req.NoError(err)
	_, _, err = SessionFromToken(noRole)
	req.ErrorIs(err, errors.ErrInvalidToken)
}

func TestTokenStore_LoginLogout(t *testing.T) {
	req := require.New(t)
	store := NewTokenStore()
	token, err := NewIssuer("whatever", time.Hour).GenerateToken(doctor)
	req.NoError(err)

	var events []bool
	unsubscribe := store.OnChange(func(_ domain.Session, ok bool) {
		events = append(events, ok)
	})

	// Given no login yet
	_, err = store.Credential(context.Background())
	req.ErrorIs(err, errors.ErrUnauthenticated)

	// When logging in
	session, err := store.Login(token)
	req.NoError(err)
	req.Equal(doctor, session)

	credential, err := store.Credential(context.Background())
	req.NoError(err)
	req.Equal(token, credential)

	// And logging out twice
	store.Logout()
	store.Logout()

	// Then handlers saw one login and one logout
	req.Equal([]bool{true, false}, events)
	_, ok := store.Session()
	req.False(ok)

	// And an unsubscribed handler is not called anymore
	unsubscribe()
	_, err = store.Login(token)
	req.NoError(err)
	req.Len(events, 2)
}

func TestTokenStore_ExpiredCredential(t *testing.T) {
	store := NewTokenStore()
	token, err := NewIssuer("whatever", time.Minute).GenerateToken(doctor)
	require.NoError(t, err)
	_, err = store.Login(token)
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = store.Credential(context.Background())
	require.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestUnaryInterceptor(t *testing.T) {
	issuer := NewIssuer("a-long-enough-secret-for-tests", time.Hour)
	token, err := issuer.GenerateToken(doctor)
	require.NoError(t, err)

	handler := func(ctx context.Context, req any) (any, error) {
		claims, ok := ClaimsFromContext(ctx)
		require.True(t, ok)
		return claims.UserID, nil
	}

	tests := []struct {
		name string
		md   metadata.MD
		code codes.Code
	}{
		{"valid bearer", metadata.Pairs("authorization", "Bearer "+token), codes.OK},
		{"missing header", metadata.Pairs(), codes.Unauthenticated},
		{"not bearer", metadata.Pairs("authorization", "Basic abc"), codes.Unauthenticated},
		{"garbage token", metadata.Pairs("authorization", "Bearer abc"), codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), tt.md)
			res, err := issuer.UnaryInterceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
			require.Equal(t, tt.code, status.Code(err))
			if tt.code == codes.OK {
				require.Equal(t, doctor.UserID, res)
			}
		})
	}
}

func TestBearerCredentials(t *testing.T) {
	req := require.New(t)
	creds := BearerCredentials{Token: func(context.Context) (string, error) { return "abc", nil }}

	md, err := creds.GetRequestMetadata(context.Background())
	req.NoError(err)
	req.Equal("Bearer abc", md["authorization"])
	req.False(creds.RequireTransportSecurity())
}
