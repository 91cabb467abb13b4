package transport

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog/log"
)

type reportList struct {
	Instances   []instances.Report `json:"instances"`
	Count       int                `json:"count"`
	LastUpdated string             `json:"last_updated"`
}

func (a *api) listInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Instances.Entries())
}

func (a *api) instancesHealth(w http.ResponseWriter, r *http.Request) {
	a.writeReports(w, a.Health.Health(r.Context()))
}

func (a *api) healthyInstances(w http.ResponseWriter, r *http.Request) {
	a.writeReports(w, a.Health.Healthy(r.Context()))
}

func (a *api) writeReports(w http.ResponseWriter, reports []instances.Report) {
	writeJSON(w, http.StatusOK, reportList{
		Instances:   reports,
		Count:       len(reports),
		LastUpdated: a.now().UTC().Format(time.RFC3339),
	})
}

// locations alimenta o mapa: a mesma checagem de saúde, como lista simples.
func (a *api) locations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Health.Health(r.Context()))
}

type serviceInfoError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	ErrorType string `json:"error_type"`
	Reason    string `json:"reason,omitempty"`
	TESURL    string `json:"tes_url,omitempty"`
}

func (a *api) serviceInfo(w http.ResponseWriter, r *http.Request) {
	tesURL := r.URL.Query().Get("tes_url")
	if tesURL == "" {
		writeJSON(w, http.StatusBadRequest, serviceInfoError{
			Error:     "tes_url parameter is required",
			ErrorCode: "MISSING_PARAMETER",
			ErrorType: "validation_error",
		})
		return
	}

	inst := a.Instances.Resolve(tesURL)
	info, err := a.Upstream.ServiceInfo(r.Context(), inst)
	if err == nil {
		writeJSON(w, http.StatusOK, info)
		return
	}

	body := serviceInfoError{
		Error:     "Could not reach TES instance",
		ErrorCode: tes.CodeServiceUnavailable,
		Reason:    err.Error(),
		TESURL:    tesURL,
	}
	status := http.StatusServiceUnavailable
	var ue *tes.UpstreamError
	if errors.As(err, &ue) {
		body.ErrorCode, body.Reason = ue.Code, ue.Reason
		if ue.StatusCode >= 400 {
			status = ue.StatusCode
		}
	}
	body.ErrorType = strings.ToLower(body.ErrorCode)
	log.Ctx(r.Context()).Warn().Err(err).Str("tes_url", tesURL).Msg("service-info indisponível")
	writeJSON(w, status, body)
}
