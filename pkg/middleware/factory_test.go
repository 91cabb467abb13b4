package middleware

import (
	"testing"

	"github.com/raywall/tes-dashboard/pkg/cache"
	"github.com/raywall/tes-dashboard/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	rm, err := rules.NewRuleManager()
	require.NoError(t, err)
	return NewFactory(Dependencies{Rules: rm})
}

func TestFactory_CreateBuiltins(t *testing.T) {
	f := newTestFactory(t)

	for _, typ := range []Type{
		TypeAuthentication, TypeAuthorization, TypeRateLimiting, TypeValidation,
		TypeLogging, TypeCaching, TypeMonitoring, TypeTransformation,
	} {
		t.Run(string(typ), func(t *testing.T) {
			mw, err := f.Create(Config{Name: "mw-" + string(typ), Type: typ, Enabled: true})
			require.NoError(t, err)
			assert.Equal(t, typ, mw.Type())
			assert.Equal(t, "mw-"+string(typ), mw.Name())
		})
	}
}

func TestFactory_CreateErrors(t *testing.T) {
	f := newTestFactory(t)

	tests := []struct {
		name       string
		cfg        Config
		wantReason string
	}{
		{"sem nome", Config{Type: TypeLogging}, "Campo 'Name' falhou na regra 'required'"},
		{"sem tipo", Config{Name: "x"}, "Campo 'Type' falhou na regra 'required'"},
		{"tipo desconhecido", Config{Name: "x", Type: "teleport"}, "Campo 'Type' falhou na regra 'middleware_type'"},
		{"tipo sem construtor", Config{Name: "x", Type: TypeSecurity}, "Unknown middleware type: security"},
		{"config inválida", Config{Name: "x", Type: TypeRateLimiting, Config: map[string]interface{}{"global_limit": -1}}, "positivos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Create(tt.cfg)
			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, cerr.Reason, tt.wantReason)
		})
	}
}

func TestFactory_CreateFromMapDefaults(t *testing.T) {
	f := newTestFactory(t)

	mw, err := f.CreateFromMap(map[string]interface{}{"name": "log", "type": "LOGGING"})
	require.NoError(t, err)
	cfg := mw.Config()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 100, cfg.Priority)
	assert.Equal(t, TypeLogging, cfg.Type)

	mw, err = f.CreateFromMap(map[string]interface{}{"name": "log", "type": "logging", "enabled": false, "priority": 5})
	require.NoError(t, err)
	assert.False(t, mw.Config().Enabled)
	assert.Equal(t, 5, mw.Config().Priority)
}

func TestFactory_RegisterCustomType(t *testing.T) {
	f := newTestFactory(t)
	assert.False(t, f.Supports(TypeSecurity))

	f.Register(TypeSecurity, func(cfg Config, _ Dependencies) (Middleware, error) {
		return newStub(cfg.Name, cfg.Type, cfg.Priority, nil), nil
	})
	assert.True(t, f.Supports(TypeSecurity))

	mw, err := f.Create(Config{Name: "headers", Type: TypeSecurity, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, TypeSecurity, mw.Type())
	assert.Contains(t, f.Types(), TypeSecurity)
}

func TestFactory_CachingUsesSharedStore(t *testing.T) {
	store := cache.NewMemoryStore(0)
	f := NewFactory(Dependencies{Cache: store})

	mw, err := f.Create(Config{Name: "caching", Type: TypeCaching, Enabled: true})
	require.NoError(t, err)
	mw.(ResponseCacher).CacheResponse("k", CachedResponse{StatusCode: 200})

	n, _ := store.Len(t.Context())
	assert.Equal(t, 1, n)
}
