// Package transport binds the in-process C8/C9/C10 APIs to the HTTP/WS
// surface described in spec.md §6. It is deliberately thin: all decisions
// live in the core components this package calls into.
package transport

import (
	"context"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/netlab-io/topofuse/internal/eventbus"
	"github.com/netlab-io/topofuse/internal/orchestrator"
	"github.com/netlab-io/topofuse/internal/topology"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server wires the core components to httprouter routes and websocket
// handlers.
type Server struct {
	store *topology.Store
	bus   *eventbus.Bus
	orch  *orchestrator.Orchestrator
	log   *logrus.Entry
}

func NewServer(store *topology.Store, bus *eventbus.Bus, orch *orchestrator.Orchestrator, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "transport")
	}
	return &Server{store: store, bus: bus, orch: orch, log: log}
}

// Router builds the full httprouter mux for spec.md §6's HTTP/WS surface.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()

	r.GET("/api/topology", s.handleGetTopology)
	r.GET("/api/links", s.handleGetLinks)
	r.GET("/api/links/:id", s.handleGetLink)
	r.PUT("/api/links/:id/state", s.handlePutLinkState)
	r.PUT("/api/links/:id/metrics", s.handlePutLinkMetrics)
	r.GET("/api/links/by-interface/:iface", s.handleGetLinkByInterface)

	r.POST("/api/events", s.handlePostEvent)
	r.POST("/api/events/batch", s.handlePostEventBatch)
	r.GET("/api/events/history", s.handleGetEventHistory)

	r.POST("/api/labs", s.handlePostLab)
	r.POST("/api/labs/file", s.handlePostLabFile)
	r.GET("/api/labs", s.handleGetLabs)
	r.DELETE("/api/labs/:name", s.handleDeleteLab)

	r.GET("/health", s.handleHealth)
	r.GET("/ws/events", s.handleWSEvents)
	r.GET("/ws/agent", s.handleWSAgent)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTopology(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	nodes, links := s.store.GetTopology()
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes, "links": links})
}

func (s *Server) handleGetLinks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	links := s.store.GetAllLinks()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := make([]topology.Link, 0, len(links))
		for _, l := range links {
			if string(l.State) == state {
				filtered = append(filtered, l)
			}
		}
		links = filtered
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	link, ok := s.store.GetLink(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "link not found")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleGetLinkByInterface(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	lab := r.URL.Query().Get("lab")
	link, ok := s.store.GetLinkByInterface(lab, p.ByName("iface"))
	if !ok {
		writeError(w, http.StatusNotFound, "link not found for interface")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

type linkStateRequest struct {
	State   string            `json:"state"`
	Metrics *topology.Metrics `json:"metrics,omitempty"`
}

func (s *Server) handlePutLinkState(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var req linkStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, changed := s.store.UpdateLinkState(p.ByName("id"), topology.LinkState(req.State), req.Metrics, topology.SourceAdmin)
	if changed {
		s.bus.Publish(eventbus.TypeLinkStateChange, ev.Link, "transport")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) handlePutLinkMetrics(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var metrics topology.Metrics
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.store.UpdateLinkMetrics(p.ByName("id"), metrics)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var ev topology.InterfaceEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.applyInterfaceEvent(ev)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handlePostEventBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var events []topology.InterfaceEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, ev := range events {
		s.applyInterfaceEvent(ev)
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) applyInterfaceEvent(ev topology.InterfaceEvent) {
	storeEv, changed := s.store.HandleAgentEvent(ev)
	if changed {
		s.bus.Publish(eventbus.TypeLinkStateChange, storeEv.Link, "agent")
	}
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.bus.History(0))
}

type deployLabRequest struct {
	ClabernetesYAML  string `json:"clabernetes_yaml"`
	ContainerlabYAML string `json:"containerlab_yaml"`
	Name             string `json:"name"`
	Namespace        string `json:"namespace"`
}

func (s *Server) handlePostLab(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req deployLabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res := s.orch.DeployLab(r.Context(), orchestrator.DeployRequest{
		ClabernetesYAML: req.ClabernetesYAML, ContainerlabYAML: req.ContainerlabYAML,
		Name: req.Name, Namespace: req.Namespace,
	})
	if res.Error != nil {
		writeJSON(w, http.StatusUnprocessableEntity, res.Lab)
		return
	}
	writeJSON(w, http.StatusCreated, res.Lab)
}

func (s *Server) handlePostLabFile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := file.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	res := s.orch.DeployLab(r.Context(), orchestrator.DeployRequest{
		ContainerlabYAML: string(buf),
		Name:             r.FormValue("name"),
		Namespace:        r.FormValue("namespace"),
	})
	if res.Error != nil {
		writeJSON(w, http.StatusUnprocessableEntity, res.Lab)
		return
	}
	writeJSON(w, http.StatusCreated, res.Lab)
}

func (s *Server) handleGetLabs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	labs, err := s.orch.ListLabs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, labs)
}

func (s *Server) handleDeleteLab(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.orch.DeleteLab(ctx, p.ByName("name")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
