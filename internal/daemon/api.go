package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
)

// apiServer exposes the operator HTTP API. A nil apiServer (empty bind
// address) disables the API; all methods tolerate the nil receiver.
type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Paths.APIToken))
		r.Get("/health", srv.handleHealth)
		r.Get("/status", srv.handleStatus)
		r.Get("/stats", srv.handleStats)
		r.Get("/items", srv.handleItems)
		r.Get("/items/{id}", srv.handleItem)
		r.Post("/items/{id}/retry", srv.handleItemRetry)
		r.Post("/items/{id}/abandon", srv.handleItemAbandon)
		r.Post("/trigger/{stage}", srv.handleTrigger)
		r.Get("/accounts", srv.handleAccounts)
		r.Put("/accounts/{id}/active", srv.handleAccountActive)
		r.Get("/config", srv.handleConfigList)
		r.Get("/config/{key}", srv.handleConfigGet)
		r.Put("/config/{key}", srv.handleConfigPut)
		r.Get("/tasks", srv.handleTasks)
		r.Post("/queue/clean", srv.handleQueueClean)
	})

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Healthy: true}
	if err := s.daemon.store.Ping(r.Context()); err != nil {
		resp.Healthy = false
		resp.Database = err.Error()
	}
	for _, health := range s.daemon.pool.Health(r.Context()) {
		view := StageHealthView{Name: health.Name, Ready: health.Ready, Detail: health.Detail}
		if !health.Ready {
			resp.Healthy = false
		}
		resp.Stages = append(resp.Stages, view)
	}
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusView(s.daemon.Status(r.Context())))
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		row, err := s.daemon.store.GetDailyStats(r.Context(), date)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if row == nil {
			s.writeError(w, http.StatusNotFound, "no stats for "+date)
			return
		}
		s.writeJSON(w, http.StatusOK, StatsResponse{Stats: []DailyStatsView{dailyStatsView(row)}})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.daemon.store.ListDailyStats(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]DailyStatsView, 0, len(rows))
	for _, row := range rows {
		views = append(views, dailyStatsView(row))
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{Stats: views})
}

func (s *apiServer) handleItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ListFilter{MPID: strings.TrimSpace(query.Get("mp_id"))}
	for _, value := range query["status"] {
		status, ok := store.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+value)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if limit, err := strconv.ParseUint(query.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}
	if offset, err := strconv.ParseUint(query.Get("offset"), 10, 64); err == nil {
		filter.Offset = offset
	}

	items, err := s.daemon.store.ListItems(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, itemView(item))
	}
	s.writeJSON(w, http.StatusOK, ItemListResponse{Items: views})
}

func (s *apiServer) handleItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookupItem(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, ItemResponse{Item: itemView(item)})
}

func (s *apiServer) handleItemRetry(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookupItem(w, r)
	if !ok {
		return
	}
	if err := s.daemon.coordinator.ResubmitItem(r.Context(), item.ID); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, ActionResponse{OK: true})
}

func (s *apiServer) handleItemAbandon(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookupItem(w, r)
	if !ok {
		return
	}
	cancelled, err := s.daemon.coordinator.AbandonItem(r.Context(), item.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{OK: true, Affected: cancelled})
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	stg, ok := store.ParseStage(chi.URLParam(r, "stage"))
	if !ok || stg == store.StageDiscovery {
		s.writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	scheduled, err := s.daemon.coordinator.TriggerStage(r.Context(), stg, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, ActionResponse{OK: true, Affected: scheduled})
}

func (s *apiServer) handleAccounts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	accounts, err := s.daemon.store.ListAccounts(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]AccountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, accountView(account))
	}
	s.writeJSON(w, http.StatusOK, AccountListResponse{Accounts: views})
}

func (s *apiServer) handleAccountActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.daemon.store.SetAccountActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{OK: true, Affected: 1})
}

func (s *apiServer) handleConfigList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.daemon.store.ListConfig(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]ConfigView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, configView(entry))
	}
	s.writeJSON(w, http.StatusOK, ConfigListResponse{Entries: views})
}

func (s *apiServer) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.daemon.store.GetConfig(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		s.writeError(w, http.StatusNotFound, "config key not found")
		return
	}
	s.writeJSON(w, http.StatusOK, ConfigResponse{Entry: configView(entry)})
}

func (s *apiServer) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, err := s.daemon.store.GetConfig(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		s.writeError(w, http.StatusNotFound, "config key not found")
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.daemon.store.SetConfig(r.Context(), key, req.Value, entry.Type, entry.Description); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err = s.daemon.store.GetConfig(r.Context(), key)
	if err != nil || entry == nil {
		s.writeError(w, http.StatusInternalServerError, "config readback failed")
		return
	}
	s.writeJSON(w, http.StatusOK, ConfigResponse{Entry: configView(entry)})
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := taskqueue.ListFilter{}
	for _, value := range query["status"] {
		filter.Statuses = append(filter.Statuses, taskqueue.Status(strings.TrimSpace(value)))
	}
	for _, value := range query["type"] {
		typ, ok := taskqueue.ParseType(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown task type "+value)
			return
		}
		filter.Types = append(filter.Types, typ)
	}
	if limit, err := strconv.ParseUint(query.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	tasks, err := s.daemon.queue.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView(task))
	}
	s.writeJSON(w, http.StatusOK, TaskListResponse{Tasks: views})
}

func (s *apiServer) handleQueueClean(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	task, err := s.daemon.queue.EnqueueCleanup(r.Context(), taskqueue.CleanupPayload{OlderThanDays: days}, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, ActionResponse{OK: true, TaskID: task.ID})
}

func (s *apiServer) lookupItem(w http.ResponseWriter, r *http.Request) (*store.Item, bool) {
	id := chi.URLParam(r, "id")
	item, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
