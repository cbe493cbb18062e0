package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/digkill/genstudio/internal/models"
)

const (
	HeaderUserID        = "X-User-Id"
	HeaderUserEmail     = "X-User-Email"
	HeaderGatewaySecret = "X-Gateway-Secret"

	maxUserIDLen = 128
)

// Identity is the caller an authenticated request acts for.
type Identity struct {
	UserID string
	Email  string
}

// Resolver turns a request into the identity of its caller.
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderResolver trusts identity headers set by the gateway in front of the service. When
// Secret is set the gateway must also present it.
type HeaderResolver struct {
	Secret string
}

func (h HeaderResolver) Resolve(r *http.Request) (Identity, error) {
	if h.Secret != "" {
		got := r.Header.Get(HeaderGatewaySecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			return Identity{}, models.ErrUnauthenticated
		}
	}
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" || len(userID) > maxUserIDLen {
		return Identity{}, models.ErrUnauthenticated
	}
	return Identity{
		UserID: userID,
		Email:  strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
