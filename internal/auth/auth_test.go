package auth

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/models"
)

func TestHeaderResolver(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		headers map[string]string
		want    Identity
		wantErr bool
	}{
		{
			name:    "identity headers",
			headers: map[string]string{HeaderUserID: " u1 ", HeaderUserEmail: "a@example.com"},
			want:    Identity{UserID: "u1", Email: "a@example.com"},
		},
		{
			name:    "missing user",
			headers: map[string]string{HeaderUserEmail: "a@example.com"},
			wantErr: true,
		},
		{
			name:    "user id too long",
			headers: map[string]string{HeaderUserID: strings.Repeat("x", 129)},
			wantErr: true,
		},
		{
			name:    "secret required and present",
			secret:  "s3cret",
			headers: map[string]string{HeaderUserID: "u1", HeaderGatewaySecret: "s3cret"},
			want:    Identity{UserID: "u1"},
		},
		{
			name:    "secret mismatch",
			secret:  "s3cret",
			headers: map[string]string{HeaderUserID: "u1", HeaderGatewaySecret: "nope"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, err := HeaderResolver{Secret: tt.secret}.Resolve(r)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
