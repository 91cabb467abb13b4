package middleware

import (
	"fmt"
	"strings"
	"sync"
)

// TokenInfo é a identidade associada a um token configurado.
type TokenInfo struct {
	UserID      string   `yaml:"user_id" json:"user_id"`
	Roles       []string `yaml:"roles" json:"roles"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type authSettings struct {
	RequireAuth bool                 `yaml:"require_auth"`
	ValidTokens map[string]TokenInfo `yaml:"valid_tokens"`
}

// Authentication resolve o usuário a partir do header Authorization (Bearer) ou X-Api-Key.
type Authentication struct {
	base
	settingsMu sync.RWMutex
	settings   authSettings
}

func NewAuthentication(cfg Config) (*Authentication, error) {
	a := &Authentication{}
	a.init(cfg)
	if err := a.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authentication) UpdateConfig(update map[string]interface{}) error {
	raw := a.merged(update)
	var s authSettings
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: a.Name(), Reason: err.Error()}
	}
	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()
	a.commit(raw)
	return nil
}

func (a *Authentication) Execute(ctx *Context) (Result, error) {
	a.settingsMu.RLock()
	s := a.settings
	a.settingsMu.RUnlock()

	if !s.RequireAuth {
		ctx.User = &User{Authenticated: false, UserID: anonymousUser}
		return Success("Authentication not required", nil), nil
	}

	token := extractToken(ctx.Request.Headers)
	if token == "" {
		return Failed("No authentication token provided", nil), nil
	}

	info, ok := s.ValidTokens[token]
	if !ok {
		return Failed("Invalid authentication token", nil), nil
	}

	ctx.User = &User{
		Authenticated: true,
		UserID:        info.UserID,
		Token:         token,
		Roles:         append([]string(nil), info.Roles...),
		Permissions:   append([]string(nil), info.Permissions...),
	}
	return Success(
		fmt.Sprintf("User %s authenticated successfully", info.UserID),
		map[string]interface{}{"user_id": info.UserID},
	), nil
}

// extractToken prioriza "Authorization: Bearer" e cai para X-Api-Key.
func extractToken(h Headers) string {
	if auth := h.Get("authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(h.Get("x-api-key"))
}
