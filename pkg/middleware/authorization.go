package middleware

import (
	"fmt"
	"sort"
	"sync"
)

type authzSettings struct {
	Permissions     map[string][]string `yaml:"endpoint_permissions"` // "METHOD:endpoint" -> permissões exigidas
	RolePermissions map[string][]string `yaml:"role_permissions"`     // papel -> permissões concedidas
}

// Authorization compara as permissões exigidas pela rota com as do usuário e seus papéis.
type Authorization struct {
	base
	settingsMu sync.RWMutex
	settings   authzSettings
}

func NewAuthorization(cfg Config) (*Authorization, error) {
	a := &Authorization{}
	a.init(cfg)
	if err := a.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authorization) UpdateConfig(update map[string]interface{}) error {
	raw := a.merged(update)
	var s authzSettings
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: a.Name(), Reason: err.Error()}
	}
	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()
	a.commit(raw)
	return nil
}

func (a *Authorization) Execute(ctx *Context) (Result, error) {
	if !ctx.Authenticated() {
		return Skipped("User not authenticated, skipping authorization"), nil
	}

	a.settingsMu.RLock()
	required := a.settings.Permissions[ctx.RouteKey()]
	rolePerms := a.settings.RolePermissions
	a.settingsMu.RUnlock()

	if len(required) == 0 {
		return Success("No specific permissions required for this endpoint", nil), nil
	}

	effective := make(map[string]bool)
	for _, p := range ctx.User.Permissions {
		effective[p] = true
	}
	for _, role := range ctx.User.Roles {
		for _, p := range rolePerms[role] {
			effective[p] = true
		}
	}

	var missing []string
	for _, p := range required {
		if !effective[p] {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		return Failed(
			fmt.Sprintf("Insufficient permissions. Missing: %v", missing),
			map[string]interface{}{
				"missing_permissions":  missing,
				"required_permissions": required,
			},
		), nil
	}

	granted := make([]string, 0, len(effective))
	for p := range effective {
		granted = append(granted, p)
	}
	sort.Strings(granted)
	return Success("Authorization successful", map[string]interface{}{"effective_permissions": granted}), nil
}
