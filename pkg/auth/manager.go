// Package auth obtém e mantém em cache tokens OAuth2 (client credentials)
// usados nas chamadas às instâncias TES protegidas.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ClientCredentials é a configuração do fluxo client_credentials de uma instância.
type ClientCredentials struct {
	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	Scope        string `yaml:"scope" json:"scope"`
}

// tokenResponse mapeia a resposta padrão da RFC 6749.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenFetcher busca um novo token e seu tempo de vida.
type TokenFetcher func(ctx context.Context) (string, time.Duration, error)

// Manager guarda o token corrente e o renova sob demanda quando passa de 80% da validade.
type Manager struct {
	mu      sync.Mutex
	fetcher TokenFetcher
	token   string
	renewAt time.Time
	now     func() time.Time
}

func NewManager(fetcher TokenFetcher) *Manager {
	return &Manager{fetcher: fetcher, now: time.Now}
}

// NewClientCredentialsManager cria o Manager para o fluxo client_credentials.
// client nil usa um http.Client com timeout de 10s.
func NewClientCredentialsManager(cfg ClientCredentials, client *http.Client) *Manager {
	return NewManager(NewClientCredentialsFetcher(cfg, client))
}

// Token devolve o token em cache ou busca um novo.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Before(m.renewAt) {
		return m.token, nil
	}

	token, ttl, err := m.fetcher(ctx)
	if err != nil {
		return "", fmt.Errorf("falha ao obter token: %w", err)
	}
	m.token = token
	m.renewAt = m.now().Add(renewAfter(ttl))
	return token, nil
}

// Invalidate descarta o token em cache, por exemplo após um 401 do upstream.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

func renewAfter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 5 * time.Minute // provedor sem expires_in
	}
	return time.Duration(float64(ttl) * 0.8)
}

// NewClientCredentialsFetcher cria o TokenFetcher do fluxo client_credentials.
func NewClientCredentialsFetcher(cfg ClientCredentials, client *http.Client) TokenFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context) (string, time.Duration, error) {
		data := url.Values{}
		data.Set("grant_type", "client_credentials")
		data.Set("client_id", cfg.ClientID)
		data.Set("client_secret", cfg.ClientSecret)
		if cfg.Scope != "" {
			data.Set("scope", cfg.Scope)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(data.Encode()))
		if err != nil {
			return "", 0, fmt.Errorf("erro ao criar request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, fmt.Errorf("erro de conexão oauth: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return "", 0, fmt.Errorf("oauth provider retornou erro: %d", resp.StatusCode)
		}

		var tr tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return "", 0, fmt.Errorf("erro decode json token: %w", err)
		}
		if tr.AccessToken == "" {
			return "", 0, fmt.Errorf("access_token veio vazio")
		}
		return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
	}
}
