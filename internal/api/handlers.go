package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hotelpms/internal/database"
	"hotelpms/internal/events"
	"hotelpms/internal/models"
	"hotelpms/internal/worker"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", models.QueueStatusPending, models.QueueStatusProcessing, models.QueueStatusCompleted, models.QueueStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	entries, err := s.deps.Store.ListQueueEntries(r.Context(), status, parseLimit(r))
	if err != nil {
		s.internalError(w, err, "list queue entries")
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.QueueStats(r.Context())
	if err != nil {
		s.internalError(w, err, "queue stats")
		return
	}

	resp := map[string]any{"queue": stats}
	if s.deps.Changes != nil {
		if n, err := s.deps.Changes.Len(r.Context()); err == nil {
			resp["change_tasks"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	entry, err := s.deps.Store.GetQueueEntry(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "queue entry not found")
		return
	}
	if err != nil {
		s.internalError(w, err, "get queue entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	err := s.deps.Store.RequeueQueueEntry(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusConflict, "queue entry is not failed")
		return
	}
	if err != nil {
		s.internalError(w, err, "requeue entry")
		return
	}

	s.logger.Info().Int64("entry_id", id).Msg("Queue entry requeued by operator")
	writeJSON(w, http.StatusOK, map[string]any{"status": "requeued", "id": id})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusNotImplemented, "dispatcher not available")
		return
	}

	res, err := s.deps.Dispatcher.RunOnce(r.Context())
	if errors.Is(err, worker.ErrCycleInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, worker.ErrDispatcherStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, err, "run dispatch cycle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"claimed":   res.Claimed,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	})
}

type appendChangeRequest struct {
	TableName string          `json:"table_name"`
	Action    string          `json:"action"`
	HotelID   int64           `json:"hotel_id"`
	Before    json.RawMessage `json:"before"`
	After     json.RawMessage `json:"after"`
}

func (req appendChangeRequest) validate() error {
	switch req.TableName {
	case models.TableReservations, models.TableReservationDetails:
	default:
		return errors.New("table_name must be reservations or reservation_details")
	}
	switch req.Action {
	case models.ChangeActionInsert:
		if len(req.After) == 0 {
			return errors.New("after is required for INSERT")
		}
	case models.ChangeActionDelete:
		if len(req.Before) == 0 {
			return errors.New("before is required for DELETE")
		}
	case models.ChangeActionUpdate:
		if len(req.Before) == 0 || len(req.After) == 0 {
			return errors.New("before and after are required for UPDATE")
		}
	default:
		return errors.New("action must be INSERT, UPDATE or DELETE")
	}
	return nil
}

// handleAppendChange records a reservation change and announces it for translation.
func (s *Server) handleAppendChange(w http.ResponseWriter, r *http.Request) {
	var req appendChangeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := &models.ChangeLogEntry{
		TableName: req.TableName,
		Action:    req.Action,
		HotelID:   req.HotelID,
		Before:    req.Before,
		After:     req.After,
	}
	if err := s.deps.Store.AppendChangeLog(r.Context(), entry); err != nil {
		s.internalError(w, err, "append change log")
		return
	}

	if s.deps.Events != nil {
		payload := events.ChangeLoggedPayload{
			LogEntryID: entry.ID,
			HotelID:    entry.HotelID,
			TableName:  entry.TableName,
			LoggedAt:   entry.LoggedAt,
		}
		if err := s.deps.Events.PublishJSON(events.EventChangeLogged, payload); err != nil {
			s.logger.Error().Err(err).Str("log_entry_id", entry.ID).Msg("Failed to publish change event")
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

func (s *Server) handleSyncChange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Changes == nil {
		writeError(w, http.StatusNotImplemented, "change queue not available")
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	task := models.ChangeTask{LogEntryID: id, EnqueuedAt: time.Now().UTC()}
	if err := s.deps.Changes.Enqueue(r.Context(), task); err != nil {
		s.internalError(w, err, "enqueue change task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued", "log_entry_id": id})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.Store.ListAuditLogs(r.Context(), parseLimit(r))
	if err != nil {
		s.internalError(w, err, "list audit logs")
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": logs})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []models.QueueEntry{}})
		return
	}

	entries, err := s.deps.DeadLetters.List(r.Context(), int64(parseLimit(r)))
	if err != nil {
		s.internalError(w, err, "list dead letters")
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleStock shows what the OTA publishes for a hotel. from and to are YYYY-MM-DD.
func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stock == nil {
		writeError(w, http.StatusNotImplemented, "stock reader not available")
		return
	}

	hotelID, err := strconv.ParseInt(chi.URLParam(r, "hotelID"), 10, 64)
	if err != nil || hotelID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid hotel id")
		return
	}
	from, err := models.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := models.ParseDay(r.URL.Query().Get("to"))
	if err != nil || to.Before(from) {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	stock, err := s.deps.Stock.CachedStock(r.Context(), hotelID, models.NewDateRange(from, to))
	if err != nil {
		s.internalError(w, err, "query stock")
		return
	}
	if stock == nil {
		stock = []models.StockObservation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotel_id": hotelID, "stock": stock})
}

func (s *Server) internalError(w http.ResponseWriter, err error, op string) {
	s.logger.Error().Err(err).Str("op", op).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
