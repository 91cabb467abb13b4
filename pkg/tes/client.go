package tes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	userAgent = "TES-Dashboard/1.0"
	apiPrefix = "/ga4gh/tes/v1"
	maxBody   = 4 << 20
)

// serviceInfoPaths são tentados em ordem.
var serviceInfoPaths = []string{apiPrefix + "/service-info", "/v1/service-info", "/service-info"}

// taskPaths são os prefixos tentados por FetchTask.
var taskPaths = []string{"/v1/tasks/", apiPrefix + "/tasks/", "/tasks/"}

// Timeouts por tipo de chamada.
type Timeouts struct {
	ServiceInfo time.Duration
	Fetch       time.Duration
	Submit      time.Duration
	Probe       time.Duration
}

// DefaultTimeouts são os limites usados quando nada é configurado.
var DefaultTimeouts = Timeouts{
	ServiceInfo: 5 * time.Second,
	Fetch:       10 * time.Second,
	Submit:      30 * time.Second,
	Probe:       10 * time.Second,
}

// Client fala com qualquer instância TES. É seguro para uso concorrente.
type Client struct {
	http     *http.Client
	timeouts Timeouts
	log      zerolog.Logger
}

// NewClient cria o cliente. httpClient nil usa um http.Client próprio; os
// timeouts são aplicados por chamada via context.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient, timeouts: DefaultTimeouts, log: logger.Component("tes-client")}
}

// WithTimeouts troca os limites por chamada. Campos zerados mantêm o padrão.
func (c *Client) WithTimeouts(t Timeouts) *Client {
	if t.ServiceInfo > 0 {
		c.timeouts.ServiceInfo = t.ServiceInfo
	}
	if t.Fetch > 0 {
		c.timeouts.Fetch = t.Fetch
	}
	if t.Submit > 0 {
		c.timeouts.Submit = t.Submit
	}
	if t.Probe > 0 {
		c.timeouts.Probe = t.Probe
	}
	return c
}

// ServiceInfo tenta os caminhos conhecidos de service-info. Um 403 indica uma
// instância ativa que exige autenticação e devolve um documento sintético.
func (c *Client) ServiceInfo(ctx context.Context, inst Instance) (ServiceInfo, error) {
	var lastErr error
	for _, path := range serviceInfoPaths {
		status, body, err := c.do(ctx, c.timeouts.ServiceInfo, http.MethodGet, inst, path, nil)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status == http.StatusOK:
			var info ServiceInfo
			if err := json.Unmarshal(body, &info); err != nil {
				lastErr = &UpstreamError{Code: CodeHTTP, Reason: "Invalid JSON in service-info", Message: err.Error(), StatusCode: status}
				continue
			}
			return info, nil
		case status == http.StatusForbidden:
			return authRequiredInfo(inst.URL), nil
		default:
			lastErr = fromResponse(status, body)
		}
	}
	return nil, lastErr
}

func authRequiredInfo(tesURL string) ServiceInfo {
	return ServiceInfo{
		"name":          "TES Service (Authentication Required)",
		"id":            tesURL,
		"organization":  map[string]interface{}{"name": "Authentication Required", "url": tesURL},
		"description":   "This TES instance requires authentication to view service information.",
		"type":          map[string]interface{}{"group": "ga4gh", "artifact": "tes", "version": "Unknown (requires auth)"},
		"version":       "Unknown",
		"auth_required": true,
		"message":       "Service is operational but requires authentication",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
}

// ProbeResult é o resultado de uma checagem de conectividade.
type ProbeResult struct {
	Reachable    bool
	AuthRequired bool
	StatusCode   int
	Latency      time.Duration
	Version      string
	// Endpoint é a URL que respondeu por último; Info vem preenchido quando ela devolveu 200.
	Endpoint string
	Info     ServiceInfo
	Err      *UpstreamError
}

// Probe percorre os caminhos de service-info até um responder 200 ou 403, que contam
// como alcançável. Falha de conexão e 401 encerram na hora.
func (c *Client) Probe(ctx context.Context, inst Instance) ProbeResult {
	var res ProbeResult
	for _, path := range serviceInfoPaths {
		start := time.Now()
		status, body, err := c.do(ctx, c.timeouts.Probe, http.MethodGet, inst, path, nil)
		res = ProbeResult{StatusCode: status, Latency: time.Since(start), Endpoint: strings.TrimRight(inst.URL, "/") + path}
		if err != nil {
			res.Err = asUpstream(err)
			return res
		}

		switch status {
		case http.StatusOK:
			res.Reachable = true
			var info ServiceInfo
			if json.Unmarshal(body, &info) == nil {
				res.Info = info
				res.Version, _ = info["version"].(string)
			}
			return res
		case http.StatusForbidden:
			res.Reachable = true
			res.AuthRequired = true
			return res
		case http.StatusUnauthorized:
			res.Err = fromResponse(status, body)
			return res
		default:
			res.Err = fromResponse(status, body)
		}
	}
	return res
}

// SubmitTask cria a tarefa na instância.
func (c *Client) SubmitTask(ctx context.Context, inst Instance, spec TaskSpec) (*CreateResponse, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("falha ao serializar tarefa: %w", err)
	}

	status, body, err := c.do(ctx, c.timeouts.Submit, http.MethodPost, inst, apiPrefix+"/tasks", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fromResponse(status, body)
	}

	var out CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{Code: CodeHTTP, Reason: "Invalid JSON in task creation response", Message: err.Error(), StatusCode: status}
	}
	return &out, nil
}

// GetTask busca a visão FULL de uma tarefa. Um 404 é reconhecível com IsNotFound.
func (c *Client) GetTask(ctx context.Context, inst Instance, id string) (*TaskView, error) {
	path := apiPrefix + "/tasks/" + url.PathEscape(id) + "?view=FULL"
	status, body, err := c.do(ctx, c.timeouts.Fetch, http.MethodGet, inst, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		ue := fromResponse(status, body)
		if status == http.StatusNotFound {
			ue.Message = fmt.Sprintf("Task %s not found on TES instance %s", id, inst.URL)
		}
		return nil, ue
	}

	var view TaskView
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, &UpstreamError{Code: CodeHTTP, Reason: "Invalid JSON in task view", Message: err.Error(), StatusCode: status}
	}
	return &view, nil
}

// TaskDocument é a tarefa como a instância devolveu, sem tipagem.
type TaskDocument struct {
	Task     map[string]interface{}
	Endpoint string
	View     string
}

// FetchTask busca a tarefa pelos prefixos de taskPaths. A visão FULL cai para
// MINIMAL quando nenhum caminho responde. Falha de transporte encerra na hora.
func (c *Client) FetchTask(ctx context.Context, inst Instance, id, view string) (*TaskDocument, error) {
	if view == "" {
		view = "FULL"
	}
	views := []string{view}
	if view == "FULL" {
		views = append(views, "MINIMAL")
	}

	var lastErr error
	for _, v := range views {
		for _, prefix := range taskPaths {
			path := prefix + url.PathEscape(id) + "?view=" + url.QueryEscape(v)
			status, body, err := c.do(ctx, c.timeouts.Fetch, http.MethodGet, inst, path, nil)
			if err != nil {
				return nil, err
			}
			if status != http.StatusOK {
				lastErr = fromResponse(status, body)
				continue
			}
			doc := &TaskDocument{Endpoint: strings.TrimRight(inst.URL, "/") + path, View: v}
			if err := json.Unmarshal(body, &doc.Task); err != nil {
				lastErr = &UpstreamError{Code: CodeHTTP, Reason: "Invalid JSON in task view", Message: err.Error(), StatusCode: status}
				continue
			}
			return doc, nil
		}
	}
	return nil, lastErr
}

// do executa a chamada com o timeout informado e devolve status e corpo.
// Erros de transporte já saem classificados.
func (c *Client) do(ctx context.Context, timeout time.Duration, method string, inst Instance, path string, payload []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(inst.URL, "/") + path
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, &UpstreamError{Code: CodeUnknown, Reason: "Invalid TES instance URL", Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := authorize(ctx, req, inst.Credentials); err != nil {
		return 0, nil, &UpstreamError{Code: CodeUnauthorized, Reason: "Could not obtain an access token", Message: err.Error(), Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		ue := classifyTransport(err)
		c.log.Debug().Str("method", method).Str("url", endpoint).Str("code", ue.Code).Err(err).Msg("falha de transporte")
		return 0, nil, ue
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, classifyTransport(err)
	}

	c.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("chamada TES")

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := inst.Credentials.OAuth.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	return resp.StatusCode, data, nil
}

func authorize(ctx context.Context, req *http.Request, cred Credentials) error {
	switch {
	case cred.Token != "":
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case cred.User != "" && cred.Password != "":
		req.SetBasicAuth(cred.User, cred.Password)
	case cred.OAuth != nil:
		tok, err := cred.OAuth.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

func asUpstream(err error) *UpstreamError {
	if ue, ok := err.(*UpstreamError); ok {
		return ue
	}
	return classifyTransport(err)
}
