package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kioskops/provisioning-agent/interfaces"
	"github.com/kioskops/provisioning-agent/modules"
	"github.com/kioskops/provisioning-agent/orchestrator"
)

// ModuleState is the panel's view of one module.
type ModuleState struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Order        int      `json:"order"`
	Dependencies []string `json:"dependencies,omitempty"`

	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Installable bool   `json:"installable"`
	Reason      string `json:"reason,omitempty"`
}

// InstallResponse is the body of the install endpoint.
type InstallResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Handler serves the web panel API over the orchestrator.
type Handler struct {
	registry *modules.Registry
	orch     *orchestrator.Orchestrator
	log      *slog.Logger
}

// NewHandler creates the panel API handler.
func NewHandler(registry *modules.Registry, orch *orchestrator.Orchestrator, log *slog.Logger) *Handler {
	return &Handler{registry: registry, orch: orch, log: log}
}

// RegisterRoutes mounts the panel endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/modules", h.HandleListModules)
	r.Get("/api/modules/{name}/status", h.HandleModuleStatus)
	r.Post("/api/modules/{name}/install", h.HandleInstall)
}

// HandleListModules returns every module in display order with its current
// status and installability.
func (h *Handler) HandleListModules(w http.ResponseWriter, r *http.Request) {
	statuses := h.orch.Statuses()
	list := h.registry.ListOrdered()

	out := make([]ModuleState, 0, len(list))
	for _, m := range list {
		desc := m.Descriptor()
		installable, reason := modules.CanInstall(r.Context(), m, statuses)
		out = append(out, ModuleState{
			Name:         desc.Name,
			DisplayName:  desc.DisplayName,
			Description:  desc.Description,
			Order:        desc.Order,
			Dependencies: desc.Dependencies,
			Status:       string(statuses[desc.Name]),
			Message:      h.orch.LastMessage(desc.Name),
			Installable:  installable,
			Reason:       reason,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleModuleStatus returns one module's status.
func (h *Handler) HandleModuleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.registry.Get(name); err != nil {
		http.Error(w, "unknown module", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, InstallResponse{
		Name:   name,
		Status: string(h.orch.Status(name)),
		Reason: h.orch.LastMessage(name),
	})
}

// HandleInstall requests installation of a module. An admitted request is
// answered 202 while the install continues in the background; a denial is
// answered 409 with the gate's reason.
func (h *Handler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	res, err := h.orch.RequestInstall(context.WithoutCancel(r.Context()), name)
	if errors.Is(err, interfaces.ErrModuleNotFound) {
		http.Error(w, "unknown module", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Install request failed", "module", name, "err", err)
		http.Error(w, "install request failed", http.StatusInternalServerError)
		return
	}

	if !res.Accepted {
		h.writeJSON(w, http.StatusConflict, InstallResponse{Name: name, Status: string(h.orch.Status(name)), Reason: res.Reason})
		return
	}
	h.writeJSON(w, http.StatusAccepted, InstallResponse{Name: name, Status: string(interfaces.StatusInstalling)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
