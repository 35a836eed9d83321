package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"lowercase scheme", "bearer abc123", "abc123", false},
		{"padded", "Bearer   abc123  ", "abc123", false},
		{"missing", "", "", true},
		{"basic", "Basic dXNlcjpwdw==", "", true},
		{"empty token", "Bearer   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticateLegacyKeyIsAdmin(t *testing.T) {
	p, ok := Authenticate("admin-key", "admin-key", nil)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeJobsWrite))
	assert.True(t, HasAnyScope(p, ScopeWorkflowWrite))
}

func TestAuthenticateScopedToken(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeWorkflowRead, ScopeJobsRead}},
		{Token: "writer", Scopes: []string{" workflow:rw ", ScopeJobsWrite, ""}},
	}

	reader, ok := Authenticate("reader", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(reader, ScopeWorkflowRead))
	assert.False(t, HasAnyScope(reader, ScopeWorkflowWrite))
	assert.False(t, HasAnyScope(reader, ScopeJobsWrite))

	writer, ok := Authenticate("writer", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(writer, ScopeWorkflowRead), "rw implies ro")
	assert.True(t, HasAnyScope(writer, ScopeJobsRead), "rw implies ro")

	_, ok = Authenticate("unknown", "", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", tokens)
	assert.False(t, ok, "empty tokens never match")
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}

func TestKnownScope(t *testing.T) {
	assert.True(t, KnownScope(ScopeJobsRead))
	assert.True(t, KnownScope("*"))
	assert.False(t, KnownScope("plugin:rw"))
}
