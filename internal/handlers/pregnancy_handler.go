package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/middleware"
	"github.com/usefultools/backend/internal/models"
	"github.com/usefultools/backend/internal/services"
)

// PregnancyHandler serves the values derived from the caller's profile.
type PregnancyHandler struct {
	trackers *services.TrackerRegistry
	clock    services.Clock
	logger   *zap.Logger
}

func NewPregnancyHandler(trackers *services.TrackerRegistry, clock services.Clock, logger *zap.Logger) *PregnancyHandler {
	if clock == nil {
		clock = services.RealClock{}
	}
	return &PregnancyHandler{trackers: trackers, clock: clock, logger: logger.Named("pregnancy_handler")}
}

func (h *PregnancyHandler) tracker(w http.ResponseWriter, r *http.Request) (*services.Tracker, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return nil, false
	}

	ctx, cancel := contextWithTimeout(r.Context())
	defer cancel()

	tracker, err := h.trackers.Get(ctx, userID)
	if err != nil {
		h.logger.Error("get tracker", zap.String("user", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to load profile"))
		return nil, false
	}
	return tracker, true
}

// derivationError answers for a stored date that does not parse.
func (h *PregnancyHandler) derivationError(w http.ResponseWriter, userID string, err error) {
	if errors.Is(err, services.ErrInvalidDate) {
		writeJSON(w, http.StatusUnprocessableEntity, models.NewErrorResponse("Stored date is not a valid calendar date"))
		return
	}
	h.logger.Error("derive", zap.String("user", userID), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to derive values"))
}

// GetPregnancy returns the current pregnancy snapshot, or null data when no
// conception date is set.
func (h *PregnancyHandler) GetPregnancy(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.tracker(w, r)
	if !ok {
		return
	}
	info, err := tracker.PregnancyInfo()
	if err != nil {
		h.derivationError(w, tracker.UserID(), err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(info))
}

// GetCalendar exports the milestones as text/calendar. 404 when no
// conception date is set.
func (h *PregnancyHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.tracker(w, r)
	if !ok {
		return
	}
	info, err := tracker.PregnancyInfo()
	if err != nil {
		h.derivationError(w, tracker.UserID(), err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("No conception date set"))
		return
	}

	body, err := services.PregnancyCalendar(tracker.UserID(), info, h.clock.Now())
	if err != nil {
		h.logger.Error("render calendar", zap.String("user", tracker.UserID()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to render calendar"))
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pregnancy.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *PregnancyHandler) GetBabyAge(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.tracker(w, r)
	if !ok {
		return
	}
	age, err := tracker.BabyAge()
	if err != nil {
		h.derivationError(w, tracker.UserID(), err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(age))
}
