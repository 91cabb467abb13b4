package tes

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Códigos de erro devolvidos ao cliente do dashboard.
const (
	CodeDNS                = "DNS_ERROR"
	CodeConnectionRefused  = "CONNECTION_REFUSED"
	CodeSSL                = "SSL_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeConnection         = "CONNECTION_ERROR"
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServerError        = "SERVER_ERROR"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	CodeHTTP               = "HTTP_ERROR"
)

// UpstreamError é uma falha classificada na comunicação com uma instância TES.
type UpstreamError struct {
	Code       string
	Reason     string
	Message    string
	StatusCode int // 0 para falhas de transporte
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsNotFound indica um 404 do upstream.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

var statusCodes = map[int]struct{ code, reason string }{
	400: {CodeBadRequest, "The task specification is invalid or malformed"},
	401: {CodeUnauthorized, "Authentication required. Configure a token or user/password for this instance."},
	403: {CodeForbidden, "You do not have permission to access this instance"},
	404: {CodeNotFound, "The TES endpoint was not found. Check if the URL is correct."},
	408: {CodeTimeout, "The request timed out. The TES instance may be overloaded."},
	429: {CodeRateLimited, "Too many requests. Please wait before submitting again."},
	500: {CodeServerError, "The TES instance encountered an internal error"},
	502: {CodeBadGateway, "The TES instance gateway is not responding correctly"},
	503: {CodeServiceUnavailable, "The TES instance service is temporarily unavailable"},
	504: {CodeGatewayTimeout, "The TES instance gateway timed out"},
}

// fromResponse classifica uma resposta HTTP de erro. A mensagem vem do primeiro
// campo presente entre message, error, detail e title.
func fromResponse(status int, body []byte) *UpstreamError {
	ue := &UpstreamError{StatusCode: status, Code: CodeHTTP, Reason: fmt.Sprintf("HTTP %d error from TES instance", status)}
	if m, ok := statusCodes[status]; ok {
		ue.Code, ue.Reason = m.code, m.reason
	}

	ue.Message = fmt.Sprintf("TES request failed with status %d", status)
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, field := range []string{"message", "error", "detail", "title"} {
			if s, ok := doc[field].(string); ok && s != "" {
				ue.Message = s
				return ue
			}
		}
	} else if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 200 {
			text = text[:200]
		}
		ue.Message += ": " + text
	}
	return ue
}

// classifyTransport converte um erro de rede em UpstreamError.
func classifyTransport(err error) *UpstreamError {
	ue := &UpstreamError{Err: err, Message: err.Error()}

	var (
		dnsErr     *net.DNSError
		netErr     net.Error
		certErr    *tls.CertificateVerificationError
		headerErr  tls.RecordHeaderError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &dnsErr):
		ue.Code, ue.Reason = CodeDNS, "DNS resolution failed. Check if the URL is correct."
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		ue.Code, ue.Reason = CodeTimeout, "The TES instance did not respond in time"
	case errors.Is(err, syscall.ECONNREFUSED):
		ue.Code, ue.Reason = CodeConnectionRefused, "The TES instance is not accepting connections"
	case errors.As(err, &certErr), errors.As(err, &headerErr), errors.As(err, &unknownCA),
		errors.As(err, &hostErr), errors.As(err, &invalidErr):
		ue.Code, ue.Reason = CodeSSL, "There is a problem with the TLS certificate of the instance"
	case errors.As(err, &netErr):
		ue.Code, ue.Reason = CodeConnection, "Network connectivity issue. Check if the TES instance is accessible."
	default:
		ue.Code, ue.Reason = CodeUnknown, "An unexpected error occurred while contacting the TES instance"
	}
	return ue
}
