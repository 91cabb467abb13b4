package middleware

import (
	"net/http"
	"strings"
	"time"
)

// Chaves do mapa Metadata usadas pelos middlewares embutidos.
const (
	MetaCachedResponse         = "cached_response"
	MetaCacheKey               = "cache_key"
	MetaShouldCache            = "should_cache"
	MetaMonitoringStartTime    = "monitoring_start_time"
	MetaMonitoringEndpoint     = "monitoring_endpoint"
	MetaCollectResponseMetrics = "collect_response_metrics"
	MetaLogEntry               = "log_entry"
	MetaVars                   = "vars"
)

// Headers guarda os headers com chaves em minúsculas.
type Headers map[string]string

// NewHeaders normaliza um http.Header (primeiro valor de cada chave).
func NewHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

// HeadersFromMap normaliza um mapa arbitrário, como o corpo do endpoint de teste.
func HeadersFromMap(m map[string]string) Headers {
	out := make(Headers, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Request é o descritor normalizado da requisição de entrada.
type Request struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	// Route é o template da rota casada, ex. /api/tasks/{id}. Vazio sem router.
	Route    string                 `json:"route,omitempty"`
	Headers  Headers                `json:"headers"`
	Query    map[string]string      `json:"query_params"`
	ClientIP string                 `json:"client_ip"`
	Body     map[string]interface{} `json:"body,omitempty"`
}

// User é preenchido pelo middleware de autenticação.
type User struct {
	Authenticated bool     `json:"authenticated"`
	UserID        string   `json:"user_id"`
	Token         string   `json:"-"`
	Roles         []string `json:"roles,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
}

const anonymousUser = "anonymous"

// Context é o estado de uma única requisição. Não é compartilhado entre requisições
// e os middlewares o mutam em sequência, por isso não há lock.
type Context struct {
	Request   Request
	User      *User
	Errors    []string
	Results   []Result
	StartTime time.Time
	Metadata  map[string]interface{}
}

// NewContext cria o contexto de uma requisição.
func NewContext(req Request) *Context {
	if req.Headers == nil {
		req.Headers = Headers{}
	}
	if req.Query == nil {
		req.Query = map[string]string{}
	}
	req.Method = strings.ToUpper(req.Method)
	return &Context{
		Request:   req,
		StartTime: time.Now(),
		Metadata:  map[string]interface{}{},
	}
}

// UserID retorna o usuário corrente ou "anonymous".
func (c *Context) UserID() string {
	if c.User == nil || c.User.UserID == "" {
		return anonymousUser
	}
	return c.User.UserID
}

// Authenticated indica se a autenticação associou um usuário válido.
func (c *Context) Authenticated() bool {
	return c.User != nil && c.User.Authenticated
}

// RouteKey é a chave "METHOD:endpoint" usada por permissões e validação.
func (c *Context) RouteKey() string {
	return c.Request.Method + ":" + c.Request.Endpoint
}

// EndpointKey agrupa por template de rota quando conhecido, e cai em RouteKey.
func (c *Context) EndpointKey() string {
	if c.Request.Route != "" {
		return c.Request.Method + ":" + c.Request.Route
	}
	return c.RouteKey()
}

func (c *Context) AddError(msg string) {
	c.Errors = append(c.Errors, msg)
}

func (c *Context) HasErrors() bool {
	return len(c.Errors) > 0
}

// CachedResponse retorna a resposta encontrada no cache, se houver.
func (c *Context) CachedResponse() (*CachedResponse, bool) {
	resp, ok := c.Metadata[MetaCachedResponse].(*CachedResponse)
	return resp, ok && resp != nil
}

// CacheKey retorna a chave a ser usada no write-back quando ShouldCache é verdadeiro.
func (c *Context) CacheKey() (string, bool) {
	key, ok := c.Metadata[MetaCacheKey].(string)
	return key, ok && key != ""
}

func (c *Context) ShouldCache() bool {
	v, _ := c.Metadata[MetaShouldCache].(bool)
	return v
}

// MonitoringStart retorna o instante marcado pelo middleware de monitoramento.
func (c *Context) MonitoringStart() (time.Time, bool) {
	t, ok := c.Metadata[MetaMonitoringStartTime].(time.Time)
	return t, ok
}

func (c *Context) CollectResponseMetrics() bool {
	v, _ := c.Metadata[MetaCollectResponseMetrics].(bool)
	return v
}

// Vars retorna os valores calculados pelo middleware de transformação.
func (c *Context) Vars() map[string]interface{} {
	vars, ok := c.Metadata[MetaVars].(map[string]interface{})
	if !ok {
		vars = map[string]interface{}{}
		c.Metadata[MetaVars] = vars
	}
	return vars
}
