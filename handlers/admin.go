package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
)

type Backups interface {
	CreateBackup(ctx context.Context) (*service.BackupResult, error)
	RestoreFromBackup(ctx context.Context, locator string) (*service.RestoreResult, error)
	ListBackups(ctx context.Context) ([]models.BackupEvent, error)
}

type AnalyticsStore interface {
	LoadAnalytics(ctx context.Context) (*models.Analytics, error)
	ClearErrors(ctx context.Context) error
}

// AdminHandler serves backups and the analytics series.
type AdminHandler struct {
	Backups   Backups
	Analytics AnalyticsStore
}

type RestoreRequest struct {
	BackupPath string `json:"backupPath" validate:"required"`
}

type BackupResponse struct {
	Message string                 `json:"message"`
	Backup  *service.BackupResult  `json:"backup,omitempty"`
	Restore *service.RestoreResult `json:"restore,omitempty"`
}

func (h *AdminHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Backups.CreateBackup(r.Context())
	if err != nil {
		writeFailure(w, r, err, "error creating backup")
		return
	}
	writeJSON(w, http.StatusOK, BackupResponse{Message: "Backup created successfully", Backup: res})
}

// ScheduleBackup runs a backup immediately. Recurring backups are configured
// with backup.interval.
func (h *AdminHandler) ScheduleBackup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Backups.CreateBackup(r.Context())
	if err != nil {
		writeFailure(w, r, err, "error scheduling backup")
		return
	}
	writeJSON(w, http.StatusOK, BackupResponse{Message: "Backup scheduled successfully", Backup: res})
}

func (h *AdminHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.Backups.RestoreFromBackup(r.Context(), strings.TrimSpace(req.BackupPath))
	if err != nil {
		writeFailure(w, r, err, "error restoring backup")
		return
	}
	writeJSON(w, http.StatusOK, BackupResponse{Message: "Backup restored successfully", Restore: res})
}

func (h *AdminHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	events, err := h.Backups.ListBackups(r.Context())
	if err != nil {
		writeFailure(w, r, err, "error listing backups")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func (h *AdminHandler) load(w http.ResponseWriter, r *http.Request) (*models.Analytics, bool) {
	a, err := h.Analytics.LoadAnalytics(r.Context())
	if err != nil {
		writeFailure(w, r, err, "error fetching analytics")
		return nil, false
	}
	return a, true
}

func (h *AdminHandler) SystemMetrics(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.load(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(a.SystemMetrics))
	}
}

func (h *AdminHandler) UserMetrics(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.load(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(a.UserMetrics))
	}
}

func (h *AdminHandler) BookMetrics(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.load(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(a.BookMetrics))
	}
}

func (h *AdminHandler) ErrorLogs(w http.ResponseWriter, r *http.Request) {
	if a, ok := h.load(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(a.Errors))
	}
}

func (h *AdminHandler) ClearErrorLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.Analytics.ClearErrors(r.Context()); err != nil {
		writeFailure(w, r, err, "error clearing error logs")
		return
	}
	writeMessage(w, http.StatusOK, "Error logs cleared successfully")
}

// nonNil keeps empty series encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
