package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kelasku/kelasku-api/internal/service"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
	"github.com/kelasku/kelasku-api/pkg/response"
)

// MissionHandler exposes mission endpoints.
type MissionHandler struct {
	missions *service.MissionService
}

// NewMissionHandler constructs MissionHandler.
func NewMissionHandler(missions *service.MissionService) *MissionHandler {
	return &MissionHandler{missions: missions}
}

// Create godoc
// @Summary Create the mission of a lesson
// @Description Creates the lesson's single mission and opens one review per
// paid subscription. A partial reconcile answers 207 with the created mission
// and the per-subscription outcome.
// @Tags Missions
// @Accept json
// @Produce json
// @Param lessonId path string true "Lesson ID"
// @Param payload body service.CreateMissionRequest true "Mission payload"
// @Success 201 {object} response.Envelope
// @Failure 207 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{lessonId}/mission [post]
func (h *MissionHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	mission, err := h.missions.Create(c.Request.Context(), actor, c.Param("lessonId"), req)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrPartialFailure.Code && mission != nil {
			c.JSON(appErr.Status, response.Envelope{Data: mission, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.Created(c, mission)
}

// Get godoc
// @Summary Get a mission with its reviews
// @Description Returns the mission, its derived status, and every review with
// its per-student derived status.
// @Tags Missions
// @Produce json
// @Param id path string true "Mission ID"
// @Success 200 {object} response.Envelope
// @Router /missions/{id} [get]
func (h *MissionHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	mission, reviews, err := h.missions.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"mission": mission, "reviews": reviews}, nil)
}

// Update godoc
// @Summary Update mission fields
// @Description Edits the mission. Changing the deadline does not touch
// existing reviews; their status is re-derived on read.
// @Tags Missions
// @Accept json
// @Produce json
// @Param id path string true "Mission ID"
// @Param payload body service.UpdateMissionRequest true "Mission payload"
// @Success 200 {object} response.Envelope
// @Router /missions/{id} [put]
func (h *MissionHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	mission, err := h.missions.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mission, nil)
}

// Reconcile godoc
// @Summary Retry review creation for a mission
// @Description Re-runs review reconciliation. Existing reviews are kept, only
// missing ones are inserted, so the retry is safe to repeat.
// @Tags Missions
// @Produce json
// @Param id path string true "Mission ID"
// @Success 200 {object} response.Envelope
// @Failure 207 {object} response.Envelope
// @Router /missions/{id}/reconcile [post]
func (h *MissionHandler) Reconcile(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	mission, err := h.missions.Reconcile(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrPartialFailure.Code && mission != nil {
			c.JSON(appErr.Status, response.Envelope{Data: mission, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mission, nil)
}
