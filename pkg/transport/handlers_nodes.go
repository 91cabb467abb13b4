package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog/log"
)

func (a *api) listNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": a.Nodes.List()})
}

func (a *api) getNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	node, err := a.Nodes.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Node not found", "node_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"node": node, "timestamp": a.now().UTC().Format(time.RFC3339)})
}

func (a *api) addNode(w http.ResponseWriter, r *http.Request) {
	var in instances.NewNode
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "corpo JSON inválido: "+err.Error())
		return
	}
	node, err := a.Nodes.Add(in)
	if err != nil {
		writeNodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": "Node added successfully", "node": node})
}

func (a *api) updateNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var u instances.NodeUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "corpo JSON inválido: "+err.Error())
		return
	}
	node, err := a.Nodes.Update(id, u)
	if err != nil {
		writeNodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Node " + id + " updated successfully", "node": node})
}

func (a *api) removeNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	remaining, err := a.Nodes.Remove(id)
	if err != nil {
		writeNodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Node " + id + " removed successfully", "remaining_nodes": remaining})
}

func writeNodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, instances.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, instances.ErrInvalidNode), errors.Is(err, instances.ErrNodeExists):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("falha ao gravar nodes")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type nodeHealth struct {
	Status       string          `json:"status"`
	ResponseTime int64           `json:"responseTime,omitempty"`
	Endpoint     string          `json:"endpoint,omitempty"`
	ServiceInfo  tes.ServiceInfo `json:"serviceInfo,omitempty"`
	Note         string          `json:"note,omitempty"`
	Error        string          `json:"error,omitempty"`
	LastChecked  string          `json:"lastChecked"`
}

func (a *api) nodeHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	node, err := a.Nodes.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Service with ID "+id+" not found")
		return
	}

	res := a.Upstream.Probe(r.Context(), a.Instances.Resolve(node.URL))
	out := nodeHealth{Status: "offline", LastChecked: a.now().UTC().Format(time.RFC3339)}
	if !res.Reachable {
		out.Error = "All service endpoints failed to respond"
		writeJSON(w, http.StatusOK, out)
		return
	}
	out.Status = "online"
	out.ResponseTime = res.Latency.Milliseconds()
	out.Endpoint = res.Endpoint
	out.ServiceInfo = res.Info
	if res.AuthRequired {
		out.Note = "Service requires authentication"
	}
	writeJSON(w, http.StatusOK, out)
}
