package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/middleware"
)

const (
	HeaderCache     = "X-Cache"
	HeaderProcessed = "X-Middleware-Processed"
	HeaderCount     = "X-Middleware-Count"
	HeaderTime      = "X-Middleware-Time"

	maxInspectBody = 1 << 20

	// unmatchedRoute agrupa as requisições que o router não reconhece.
	unmatchedRoute = "unmatched"
)

const ctxKeyMiddleware ctxKey = "middleware_context"

// MiddlewareContext devolve o contexto do pipeline da requisição, se houver.
func MiddlewareContext(ctx context.Context) (*middleware.Context, bool) {
	mc, ok := ctx.Value(ctxKeyMiddleware).(*middleware.Context)
	return mc, ok && mc != nil
}

// bypass indica rotas fora do pipeline.
func bypass(path string) bool {
	return path == "/health" || path == "/api/middleware" || strings.HasPrefix(path, "/api/middleware/")
}

// Pipeline executa a cadeia do Manager antes do handler. Falhas de autenticação
// e autorização bloqueiam; respostas em cache são devolvidas sem chamar next.
func Pipeline(m *middleware.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypass(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		req := describeRequest(r)
		req.Route = routeTemplate(next, r)
		mc := middleware.NewContext(req)
		results := m.ExecuteChain(mc)

		if res, status, blocked := m.Blocking(mc); blocked {
			setPipelineHeaders(w.Header(), mc, len(results))
			writeJSON(w, status, map[string]interface{}{
				"error":      "Middleware blocked request",
				"middleware": res.MiddlewareName,
				"message":    res.Message,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		if cached, ok := mc.CachedResponse(); ok {
			replay(w, cached, mc, len(results))
			return
		}

		w.Header().Set(HeaderCache, "MISS")
		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK, mc: mc, count: len(results)}
		ctx := context.WithValue(r.Context(), ctxKeyMiddleware, mc)
		next.ServeHTTP(cw, r.WithContext(ctx))

		if key, ok := mc.CacheKey(); ok && mc.ShouldCache() && !cw.overflow && cw.status >= 200 && cw.status < 300 {
			resp := middleware.CachedResponse{
				StatusCode: cw.status,
				Headers:    map[string]string{"Content-Type": cw.Header().Get("Content-Type")},
				Body:       cw.body.Bytes(),
			}
			// o primeiro cacher com write-back fica com a resposta
			if cachers := m.Cachers(); len(cachers) > 0 {
				cachers[0].CacheResponse(key, resp)
			}
		}
		for _, rec := range m.Recorders() {
			rec.RecordResponse(mc, cw.status)
		}
	})
}

func replay(w http.ResponseWriter, cached *middleware.CachedResponse, mc *middleware.Context, count int) {
	h := w.Header()
	for k, v := range cached.Headers {
		if v != "" {
			h.Set(k, v)
		}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	h.Set(HeaderCache, "HIT")
	setPipelineHeaders(h, mc, count)
	status := cached.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(cached.Body)
}

func setPipelineHeaders(h http.Header, mc *middleware.Context, count int) {
	h.Set(HeaderProcessed, "true")
	h.Set(HeaderCount, strconv.Itoa(count))
	elapsed := float64(time.Since(mc.StartTime).Microseconds()) / 1000.0
	h.Set(HeaderTime, fmt.Sprintf("%.2fms", elapsed))
}

// captureWriter guarda o status e o corpo para o write-back do cache.
// Corpos acima de maxInspectBody marcam overflow e não são cacheados.
type captureWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	overflow    bool
	wroteHeader bool
	mc          *middleware.Context
	count       int
}

func (c *captureWriter) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = code
	setPipelineHeaders(c.Header(), c.mc, c.count)
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	switch {
	case c.overflow:
	case c.body.Len()+len(b) > maxInspectBody:
		c.overflow = true
		c.body.Reset()
	default:
		c.body.Write(b)
	}
	return c.ResponseWriter.Write(b)
}

// describeRequest monta o descritor normalizado. Corpos JSON e formulários
// são lidos e o corpo original é restaurado para o handler.
// routeTemplate devolve o template da rota mux que atenderá r, ou "" quando next não é um router.
func routeTemplate(next http.Handler, r *http.Request) string {
	router, ok := next.(*mux.Router)
	if !ok {
		return ""
	}
	var match mux.RouteMatch
	if !router.Match(r, &match) || match.MatchErr != nil || match.Route == nil {
		return unmatchedRoute
	}
	tpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return tpl
}

func describeRequest(r *http.Request) middleware.Request {
	req := middleware.Request{
		Method:   r.Method,
		Endpoint: r.URL.Path,
		Headers:  middleware.NewHeaders(r.Header),
		Query:    map[string]string{},
		ClientIP: clientIP(r),
		Body:     map[string]interface{}{},
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			req.Query[k] = v[0]
		}
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case r.Body == nil || r.Method == http.MethodGet:
	case mediaType == "application/json":
		data, err := io.ReadAll(io.LimitReader(r.Body, maxInspectBody))
		if err == nil {
			_ = json.Unmarshal(data, &req.Body)
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), r.Body))
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					req.Body[k] = v[0]
				}
			}
		}
	case mediaType == "application/x-www-form-urlencoded":
		data, err := io.ReadAll(io.LimitReader(r.Body, maxInspectBody))
		if err == nil {
			if r.PostForm, err = url.ParseQuery(string(data)); err == nil {
				for k, v := range r.PostForm {
					if len(v) > 0 {
						req.Body[k] = v[0]
					}
				}
			}
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), r.Body))
	}
	return req
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
