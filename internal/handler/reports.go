package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/minglr/match-relay/internal/config"
	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/httputil"
	"github.com/minglr/match-relay/internal/middleware"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/safety"
	"github.com/minglr/match-relay/internal/store"
)

type ReportsHandler struct {
	reports *safety.ReportService
	limiter *safety.RateLimiter
	store   *store.Store
}

func NewReportsHandler(reports *safety.ReportService, limiter *safety.RateLimiter, s *store.Store) *ReportsHandler {
	return &ReportsHandler{reports: reports, limiter: limiter, store: s}
}

type fileReportRequest struct {
	ReportedSessionID string `json:"reportedSessionId"`
	RoomID            string `json:"roomId"`
	Reason            string `json:"reason"`
	Details           string `json:"details,omitempty"`
}

type fileReportResponse struct {
	ReportID             string `json:"reportId"`
	ShouldAutoDisconnect bool   `json:"shouldAutoDisconnect"`
}

// POST /api/reports
func (h *ReportsHandler) File(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reporterID := middleware.GetSessionID(ctx)

	if !h.limiter.Allow(ctx, "report:"+reporterID, config.ReportRateLimit, config.ReportWindow) {
		httputil.WriteError(w, apperrors.RateLimited())
		return
	}

	var req fileReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidArgument("malformed request body"))
		return
	}

	submission, err := h.reports.File(ctx, reporterID, req.ReportedSessionID, req.RoomID, req.Reason, req.Details)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if submission.ShouldAutoDisconnect {
		h.warnAutoDisconnect(ctx, req.ReportedSessionID)
	}

	httputil.WriteJSON(w, http.StatusOK, fileReportResponse{
		ReportID:             submission.Report.ID,
		ShouldAutoDisconnect: submission.ShouldAutoDisconnect,
	})
}

// warnAutoDisconnect publishes the warning that lets the Connection
// Gateway's Hub schedule a forced leave on the reported session,
// wherever in the cluster it is attached.
func (h *ReportsHandler) warnAutoDisconnect(ctx context.Context, targetSessionID string) {
	event, err := model.NewEvent(model.EventAutoDisconnectWarning, struct{}{})
	if err != nil {
		log.Error().Err(err).Msg("failed to build auto-disconnect-warning event")
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal auto-disconnect-warning event")
		return
	}
	if err := h.store.Publish(ctx, store.UserTopic(targetSessionID), raw).Err(); err != nil {
		log.Warn().Err(err).Str("sessionId", targetSessionID).Msg("failed to publish auto-disconnect-warning")
	}
}

// GET /api/reports?status=
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reports, err := h.reports.List(ctx, 100)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]model.Report, 0, len(reports))
		for _, rep := range reports {
			if string(rep.Status) == status {
				filtered = append(filtered, rep)
			}
		}
		reports = filtered
	}

	httputil.WriteJSON(w, http.StatusOK, reports)
}
