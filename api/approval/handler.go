package approval

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kioskops/provisioning-agent/api"
)

// maxBodySize is the maximum allowed request body size (64KB); enrollment
// payloads are small.
const maxBodySize = 64 * 1024

// HandlerConfig tunes the approval service behavior.
type HandlerConfig struct {
	// RequestTTL is how long an undecided request stays pending before the
	// status endpoint reports it expired. Zero disables expiry.
	RequestTTL time.Duration

	// RegisterCooldown is the minimum interval between register calls for
	// the same fingerprint; violations are answered 429. Zero disables rate
	// limiting.
	RegisterCooldown time.Duration
}

// Handler processes enrollment registration, status polling, and the admin
// decision endpoints.
type Handler struct {
	store Store
	cfg   HandlerConfig
	log   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu           sync.Mutex
	lastRegister map[string]time.Time
}

// NewHandler creates an approval service handler over the given record store.
func NewHandler(store Store, cfg HandlerConfig, log *slog.Logger) *Handler {
	return &Handler{
		store:        store,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		lastRegister: make(map[string]time.Time),
	}
}

// RegisterRoutes mounts the device-facing endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/enrollment/register", h.HandleRegister)
	r.Get("/api/enrollment/status/{fingerprint}", h.HandleStatus)
}

// RegisterAdminRoutes mounts the administrator decision endpoints on r. The
// caller is expected to wrap r in its own authentication middleware.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/api/admin/enrollment", h.HandleList)
	r.Post("/api/admin/enrollment/{fingerprint}/approve", h.HandleApprove)
	r.Post("/api/admin/enrollment/{fingerprint}/reject", h.HandleReject)
}

// HandleRegister records a device's enrollment request.
//
// A fingerprint with an existing approved record is answered immediately
// with the credential (the pre-approved path). Otherwise the request is
// stored pending and answered with status pending; repeat registrations
// return the current record state.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.log.Error("Malformed registration request", "err", err)
		http.Error(w, "malformed registration request", http.StatusBadRequest)
		return
	}
	if req.Fingerprint == "" {
		http.Error(w, "missing fingerprint", http.StatusBadRequest)
		return
	}

	if h.throttled(req.Fingerprint) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(h.cfg.RegisterCooldown.Seconds())))
		http.Error(w, "registration rate limited", http.StatusTooManyRequests)
		return
	}

	rec, err := h.store.Get(req.Fingerprint)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Record{
			Fingerprint: req.Fingerprint,
			Status:      api.EnrollmentPending,
			Hostname:    req.Hostname,
			Platform:    req.Platform,
			Metadata:    req.Metadata,
			CreatedAt:   h.now(),
		}
		if err := h.store.Put(rec); err != nil {
			h.log.Error("Failed to store enrollment record", "err", err)
			http.Error(w, "failed to store enrollment record", http.StatusInternalServerError)
			return
		}
		h.log.Info("Enrollment request recorded",
			slog.String("fingerprint", req.Fingerprint),
			slog.String("hostname", req.Hostname))
	case err != nil:
		h.log.Error("Failed to load enrollment record", "err", err)
		http.Error(w, "failed to load enrollment record", http.StatusInternalServerError)
		return
	}

	h.writeRecord(w, h.withExpiry(rec))
}

// HandleStatus reports the current record state for a fingerprint, or 404
// when the fingerprint was never registered.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	rec, err := h.store.Get(fingerprint)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "unknown fingerprint", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load enrollment record", "err", err)
		http.Error(w, "failed to load enrollment record", http.StatusInternalServerError)
		return
	}
	h.writeRecord(w, h.withExpiry(rec))
}

// HandleApprove approves a fingerprint and mints its credential. Approving a
// fingerprint that never registered creates a pre-approved record, so a
// device submitting later is answered with the credential immediately.
// Approving twice keeps the originally minted credential.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		http.Error(w, "missing fingerprint", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(fingerprint)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{Fingerprint: fingerprint, CreatedAt: h.now()}
	} else if err != nil {
		h.log.Error("Failed to load enrollment record", "err", err)
		http.Error(w, "failed to load enrollment record", http.StatusInternalServerError)
		return
	}

	if rec.Status != api.EnrollmentApproved {
		credential, err := mintCredential()
		if err != nil {
			h.log.Error("Failed to mint credential", "err", err)
			http.Error(w, "failed to mint credential", http.StatusInternalServerError)
			return
		}
		rec.Status = api.EnrollmentApproved
		rec.Credential = credential
		rec.Reason = ""
		rec.DecidedAt = h.now()
		if err := h.store.Put(rec); err != nil {
			h.log.Error("Failed to store approval", "err", err)
			http.Error(w, "failed to store approval", http.StatusInternalServerError)
			return
		}
		h.log.Info("Enrollment approved", slog.String("fingerprint", fingerprint))
	}

	h.writeRecord(w, rec)
}

// HandleReject rejects a fingerprint with the administrator's reason.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	var req api.RejectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "malformed reject request", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(fingerprint)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "unknown fingerprint", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load enrollment record", "err", err)
		http.Error(w, "failed to load enrollment record", http.StatusInternalServerError)
		return
	}

	rec.Status = api.EnrollmentRejected
	rec.Reason = req.Reason
	rec.Credential = ""
	rec.DecidedAt = h.now()
	if err := h.store.Put(rec); err != nil {
		h.log.Error("Failed to store rejection", "err", err)
		http.Error(w, "failed to store rejection", http.StatusInternalServerError)
		return
	}
	h.log.Info("Enrollment rejected",
		slog.String("fingerprint", fingerprint),
		slog.String("reason", req.Reason))

	h.writeRecord(w, rec)
}

// HandleList returns all enrollment records for the admin UI.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List()
	if err != nil {
		h.log.Error("Failed to list enrollment records", "err", err)
		http.Error(w, "failed to list enrollment records", http.StatusInternalServerError)
		return
	}
	for i, rec := range records {
		records[i] = h.withExpiry(rec)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		h.log.Error("Failed to encode record list", "err", err)
	}
}

// withExpiry applies the request TTL at read time: a pending record older
// than the TTL is reported (and persisted) as expired. Decided records are
// never expired.
func (h *Handler) withExpiry(rec *Record) *Record {
	if h.cfg.RequestTTL <= 0 || rec.Status != api.EnrollmentPending {
		return rec
	}
	if h.now().Sub(rec.CreatedAt) <= h.cfg.RequestTTL {
		return rec
	}
	rec.Status = api.EnrollmentExpired
	if err := h.store.Put(rec); err != nil {
		h.log.Error("Failed to persist expiry", "err", err)
	}
	return rec
}

func (h *Handler) throttled(fingerprint string) bool {
	if h.cfg.RegisterCooldown <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if last, ok := h.lastRegister[fingerprint]; ok && now.Sub(last) < h.cfg.RegisterCooldown {
		return true
	}
	h.lastRegister[fingerprint] = now
	return false
}

func (h *Handler) writeRecord(w http.ResponseWriter, rec *Record) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec.Response()); err != nil {
		h.log.Error("Failed to encode enrollment response", "err", err)
	}
}

func mintCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
