package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authConfig(requireAuth bool) Config {
	return Config{
		Name: "authentication", Type: TypeAuthentication, Enabled: true, Priority: 10,
		Config: map[string]interface{}{
			"require_auth": requireAuth,
			"valid_tokens": map[string]interface{}{
				"tok-admin": map[string]interface{}{
					"user_id":     "admin_user",
					"roles":       []interface{}{"admin"},
					"permissions": []interface{}{"read"},
				},
			},
		},
	}
}

func TestAuthentication_Execute(t *testing.T) {
	tests := []struct {
		name        string
		requireAuth bool
		headers     map[string]string
		wantStatus  Status
		wantMessage string
		wantUser    string
		wantAuth    bool
	}{
		{
			name:        "não exigida",
			requireAuth: false,
			wantStatus:  StatusSuccess,
			wantMessage: "Authentication not required",
			wantUser:    "anonymous",
		},
		{
			name:        "sem token",
			requireAuth: true,
			wantStatus:  StatusFailed,
			wantMessage: "No authentication token provided",
			wantUser:    "anonymous",
		},
		{
			name:        "token inválido",
			requireAuth: true,
			headers:     map[string]string{"Authorization": "Bearer nope"},
			wantStatus:  StatusFailed,
			wantMessage: "Invalid authentication token",
			wantUser:    "anonymous",
		},
		{
			name:        "bearer válido",
			requireAuth: true,
			headers:     map[string]string{"Authorization": "Bearer tok-admin"},
			wantStatus:  StatusSuccess,
			wantMessage: "User admin_user authenticated successfully",
			wantUser:    "admin_user",
			wantAuth:    true,
		},
		{
			name:        "x-api-key válido",
			requireAuth: true,
			headers:     map[string]string{"X-Api-Key": "tok-admin"},
			wantStatus:  StatusSuccess,
			wantUser:    "admin_user",
			wantAuth:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAuthentication(authConfig(tt.requireAuth))
			require.NoError(t, err)

			ctx := NewContext(Request{Method: "GET", Endpoint: "/api/tasks", Headers: HeadersFromMap(tt.headers)})
			res, err := a.Execute(ctx)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			}
			assert.Equal(t, tt.wantUser, ctx.UserID())
			assert.Equal(t, tt.wantAuth, ctx.Authenticated())
			if tt.wantAuth {
				assert.Equal(t, tt.wantUser, res.Data["user_id"])
			}
		})
	}
}

func TestAuthentication_InvalidConfig(t *testing.T) {
	_, err := NewAuthentication(Config{
		Name: "authentication", Type: TypeAuthentication,
		Config: map[string]interface{}{"valid_tokens": "not-a-map"},
	})
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func authzMiddleware(t *testing.T) *Authorization {
	t.Helper()
	a, err := NewAuthorization(Config{
		Name: "authorization", Type: TypeAuthorization, Enabled: true, Priority: 20,
		Config: map[string]interface{}{
			"role_permissions": map[string]interface{}{
				"admin":    []interface{}{"read", "write", "delete"},
				"readonly": []interface{}{"read"},
			},
			"endpoint_permissions": map[string]interface{}{
				"POST:/api/submit_task": []interface{}{"write"},
				"DELETE:/api/tasks":     []interface{}{"delete", "write"},
			},
		},
	})
	require.NoError(t, err)
	return a
}

func TestAuthorization_Execute(t *testing.T) {
	a := authzMiddleware(t)

	t.Run("não autenticado é ignorado", func(t *testing.T) {
		ctx := NewContext(Request{Method: "POST", Endpoint: "/api/submit_task"})
		res, err := a.Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, res.Status)
	})

	t.Run("rota sem exigência", func(t *testing.T) {
		ctx := NewContext(Request{Method: "GET", Endpoint: "/api/tasks"})
		ctx.User = &User{Authenticated: true, UserID: "u"}
		res, err := a.Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, "No specific permissions required for this endpoint", res.Message)
	})

	t.Run("permissões faltando", func(t *testing.T) {
		ctx := NewContext(Request{Method: "DELETE", Endpoint: "/api/tasks"})
		ctx.User = &User{Authenticated: true, UserID: "ro", Roles: []string{"readonly"}}
		res, err := a.Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "Insufficient permissions. Missing: [delete write]", res.Message)
		assert.Equal(t, []string{"delete", "write"}, res.Data["missing_permissions"])
	})

	t.Run("papel concede", func(t *testing.T) {
		ctx := NewContext(Request{Method: "POST", Endpoint: "/api/submit_task"})
		ctx.User = &User{Authenticated: true, UserID: "adm", Roles: []string{"admin"}, Permissions: []string{"test"}}
		res, err := a.Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, []string{"delete", "read", "test", "write"}, res.Data["effective_permissions"])
	})

	t.Run("permissão direta concede", func(t *testing.T) {
		ctx := NewContext(Request{Method: "POST", Endpoint: "/api/submit_task"})
		ctx.User = &User{Authenticated: true, UserID: "u", Permissions: []string{"write"}}
		res, err := a.Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
	})
}

func TestAuthChain_BlocksWithStatusCodes(t *testing.T) {
	auth, err := NewAuthentication(authConfig(true))
	require.NoError(t, err)

	m := NewManager(nil)
	m.Register(auth)
	m.Register(authzMiddleware(t))

	ctx := NewContext(Request{Method: "POST", Endpoint: "/api/submit_task"})
	m.ExecuteChain(ctx)
	res, code, blocked := m.Blocking(ctx)
	require.True(t, blocked)
	assert.Equal(t, 401, code)
	assert.Equal(t, "authentication", res.MiddlewareName)

	// admin_user tem apenas "read" direto e papel admin concede write
	ctx = NewContext(Request{Method: "POST", Endpoint: "/api/submit_task", Headers: HeadersFromMap(map[string]string{"Authorization": "Bearer tok-admin"})})
	m.ExecuteChain(ctx)
	_, _, blocked = m.Blocking(ctx)
	assert.False(t, blocked)
}
