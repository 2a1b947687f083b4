package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/helgasoul/eva-sync/internal/backup"
	"github.com/helgasoul/eva-sync/internal/store"
	syncpkg "github.com/helgasoul/eva-sync/internal/sync"
	"go.uber.org/zap"
)

// Handler carries the handlers' dependencies.
type Handler struct {
	coord   *syncpkg.Coordinator
	backups *backup.Manager
	db      *store.DB
	userID  string
	logger  *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(coord *syncpkg.Coordinator, backups *backup.Manager, db *store.DB, userID string, logger *zap.Logger) *Handler {
	return &Handler{coord: coord, backups: backups, db: db, userID: userID, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health handles GET /v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.coord.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TriggerSync handles POST /v1/sync. Responds 409 when a cycle is already
// in flight.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.coord.Sync(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, syncpkg.ErrSyncInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, syncpkg.ErrNoUser):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Queue handles GET /v1/queue.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	changes, err := h.db.PendingChanges()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type entry struct {
		ID         string         `json:"id"`
		Collection string         `json:"collection"`
		Op         string         `json:"op"`
		Record     map[string]any `json:"record"`
		Attempts   int            `json:"attempts"`
		QueuedAt   time.Time      `json:"queued_at"`
	}
	entries := make([]entry, 0, len(changes))
	for _, ch := range changes {
		entries = append(entries, entry{
			ID:         ch.ID,
			Collection: string(ch.Collection),
			Op:         string(ch.Op),
			Record:     ch.Record.Document(),
			Attempts:   ch.Attempts,
			QueuedAt:   ch.QueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": len(entries),
		"changes": entries,
	})
}

type settingsDTO struct {
	AutoSync            bool     `json:"auto_sync"`
	IntervalSeconds     int      `json:"interval_seconds"`
	BatchSize           int      `json:"batch_size"`
	RetryAttempts       int      `json:"retry_attempts"`
	ConflictResolution  string   `json:"conflict_resolution"`
	PriorityCollections []string `json:"priority_collections"`
}

// Settings handles GET /v1/settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	s := h.coord.Settings()
	cols := make([]string, 0, len(s.PriorityCollections))
	for _, c := range s.PriorityCollections {
		cols = append(cols, string(c))
	}
	writeJSON(w, http.StatusOK, settingsDTO{
		AutoSync:            s.AutoSync,
		IntervalSeconds:     int(s.Interval / time.Second),
		BatchSize:           s.BatchSize,
		RetryAttempts:       s.RetryAttempts,
		ConflictResolution:  string(s.ConflictResolution),
		PriorityCollections: cols,
	})
}

// UpdateSettings handles PUT /v1/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var dto settingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	policy, err := syncpkg.ParsePolicy(dto.ConflictResolution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cols := make([]store.Collection, 0, len(dto.PriorityCollections))
	for _, name := range dto.PriorityCollections {
		col, err := store.ParseCollection(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cols = append(cols, col)
	}
	h.coord.UpdateSettings(syncpkg.Settings{
		AutoSync:            dto.AutoSync,
		Interval:            time.Duration(dto.IntervalSeconds) * time.Second,
		BatchSize:           dto.BatchSize,
		RetryAttempts:       dto.RetryAttempts,
		ConflictResolution:  policy,
		PriorityCollections: cols,
	})
	h.Settings(w, r)
}

// Conflicts handles GET /v1/conflicts: unresolved conflicts persisted under
// the manual policy.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.db.GetAllForUser(store.Conflicts, h.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	docs := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, rec.Document())
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": docs})
}

// ListBackups handles GET /v1/backups.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	infos, err := h.backups.List(h.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": infos})
}

// CreateBackup handles POST /v1/backups.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	id, err := h.backups.Create(r.Context(), h.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"backup_id": id})
}

// RestoreBackup handles POST /v1/backups/{id}/restore.
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.backups.Restore(r.Context(), h.userID, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"restored": id})
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backup.ErrCorrupted):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type putRecordRequest struct {
	Op     string         `json:"op"`
	Record map[string]any `json:"record"`
}

// PutRecord handles PUT /v1/records/{collection}: the application write
// path, storing locally and queueing the change for push.
func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	col, err := store.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req putRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	op := store.Op(req.Op)
	if op == "" {
		op = store.OpUpdate
	}
	if op != store.OpInsert && op != store.OpUpdate {
		writeError(w, http.StatusBadRequest, "op must be insert or update")
		return
	}
	rec, err := store.FromDocument(req.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.UserID == "" {
		rec.UserID = h.userID
	}
	ch, err := h.coord.QueueChange(store.Change{
		Collection: col,
		Op:         op,
		Record:     rec,
		UserID:     rec.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"change_id": ch.ID, "record_id": rec.ID})
}

// DeleteRecord handles DELETE /v1/records/{collection}/{id}: removes the
// record locally and queues the delete propagation.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	col, err := store.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	ch, err := h.coord.QueueChange(store.Change{
		Collection: col,
		Op:         store.OpDelete,
		Record:     store.Record{ID: id, UserID: h.userID, UpdatedAt: time.Now()},
		UserID:     h.userID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"change_id": ch.ID, "record_id": id})
}
