package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/middleware"
	"github.com/usefultools/backend/internal/models"
	"github.com/usefultools/backend/internal/services"
)

type ProfileHandler struct {
	trackers *services.TrackerRegistry
	validate *validator.Validate
	logger   *zap.Logger
}

func NewProfileHandler(trackers *services.TrackerRegistry, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		trackers: trackers,
		validate: models.NewValidator(services.ParseDate),
		logger:   logger.Named("profile_handler"),
	}
}

// GetProfile returns the caller's tracked dates as last synced.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context())
	defer cancel()

	tracker, err := h.trackers.Get(ctx, userID)
	if err != nil {
		h.logger.Error("get tracker", zap.String("user", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to load profile"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(tracker.Profile()))
}

// UpdateProfile sets the fields present in the body and saves the whole
// profile. An empty string clears a field. When the save fails the tracker
// goes back to what it held before the request.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return
	}
	if errs := req.Validate(h.validate); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context())
	defer cancel()

	tracker, err := h.trackers.Get(ctx, userID)
	if err != nil {
		h.logger.Error("get tracker", zap.String("user", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to load profile"))
		return
	}

	before := tracker.Profile()
	if req.ConceptionDate != nil {
		tracker.SetConceptionDate(*req.ConceptionDate)
	}
	if req.BabyBirthDate != nil {
		tracker.SetBabyBirthDate(*req.BabyBirthDate)
	}

	if err := tracker.SaveProfile(ctx); err != nil {
		tracker.Restore(before)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to save profile"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(tracker.Profile()))
}
