package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rpg-server/internal/models"
	"rpg-server/internal/service"
)

// APIError is the standardized error response body.
type APIError struct {
	Message string `json:"message"`
}

// CreateCampaignRequest is the body of POST /api/campaigns.
type CreateCampaignRequest struct {
	Name       string         `json:"name" validate:"required,min=1,max=120"`
	PlayerName string         `json:"playerName" validate:"required,min=1,max=64"`
	PlayerID   string         `json:"playerId" validate:"omitempty,uuid4"`
	LocationID string         `json:"locationId" validate:"omitempty,max=64"`
	Stats      map[string]int `json:"stats" validate:"omitempty,max=16"`
}

// ExecuteTurnRequest is the body of POST /api/campaigns/:id/turns.
type ExecuteTurnRequest struct {
	PlayerID string `json:"playerId" validate:"required,uuid4"`
	Input    string `json:"input" validate:"required,min=1,max=2000"`
}

// TranscriptResponse wraps a transcript page.
type TranscriptResponse struct {
	Entries  []models.TranscriptEntry `json:"entries"`
	NextTurn int                      `json:"nextTurn,omitempty"`
}

// TurnHandler serves the HTTP surface of the turn engine.
type TurnHandler struct {
	service  *service.TurnService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewTurnHandler creates the handler.
func NewTurnHandler(s *service.TurnService, logger *zap.Logger) *TurnHandler {
	return &TurnHandler{
		service:  s,
		validate: validator.New(),
		logger:   logger.Named("TurnHandler"),
	}
}

// RegisterRoutes registers all routes on the echo instance.
func (h *TurnHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	{
		api.POST("/campaigns", h.createCampaign)
		api.GET("/campaigns/:id", h.getCampaignState)
		api.POST("/campaigns/:id/turns", h.executeTurn)
		api.GET("/campaigns/:id/transcript", h.getTranscript)
		api.GET("/campaigns/:id/stream", h.streamTurn)
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (h *TurnHandler) createCampaign(c echo.Context) error {
	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Validation failed: " + err.Error()})
	}

	playerID := uuid.Nil
	if req.PlayerID != "" {
		parsed, err := uuid.Parse(req.PlayerID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid playerId format"})
		}
		playerID = parsed
	}

	projection, err := h.service.CreateCampaign(c.Request().Context(), service.CreateCampaignParams{
		Name:       req.Name,
		PlayerID:   playerID,
		PlayerName: req.PlayerName,
		LocationID: req.LocationID,
		Stats:      req.Stats,
	})
	if err != nil {
		h.logger.Error("Failed to create campaign", zap.Error(err))
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, projection)
}

func (h *TurnHandler) getCampaignState(c echo.Context) error {
	campaignID, err := parseCampaignID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid campaign ID format"})
	}

	projection, err := h.service.GetProjection(c.Request().Context(), campaignID)
	if err != nil {
		if !errors.Is(err, models.ErrCampaignNotFound) && !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("Failed to get campaign state",
				zap.String("campaignId", campaignID.String()), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, projection)
}

func (h *TurnHandler) executeTurn(c echo.Context) error {
	campaignID, err := parseCampaignID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid campaign ID format"})
	}

	var req ExecuteTurnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Validation failed: " + err.Error()})
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid playerId format"})
	}

	response, err := h.service.ExecuteTurn(c.Request().Context(), campaignID, playerID, req.Input, nil)
	if err != nil {
		if !expectedTurnError(err) {
			h.logger.Error("Failed to execute turn",
				zap.String("campaignId", campaignID.String()), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

func (h *TurnHandler) getTranscript(c echo.Context) error {
	campaignID, err := parseCampaignID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid campaign ID format"})
	}

	afterTurn := 0
	if v := c.QueryParam("afterTurn"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid 'afterTurn' parameter"})
		}
		afterTurn = parsed
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid 'limit' parameter"})
		}
		limit = parsed
	}

	entries, err := h.service.GetTranscript(c.Request().Context(), campaignID, afterTurn, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	resp := TranscriptResponse{Entries: entries}
	if len(entries) > 0 {
		resp.NextTurn = entries[len(entries)-1].TurnNumber
	}
	return c.JSON(http.StatusOK, resp)
}

func parseCampaignID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

// expectedTurnError reports whether the error is an ordinary client-visible
// outcome that doesn't need an error-level log.
func expectedTurnError(err error) bool {
	return errors.Is(err, models.ErrCampaignNotFound) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrForbidden) ||
		errors.Is(err, models.ErrTurnConflict)
}

func handleServiceError(c echo.Context, err error) error {
	var statusCode int
	var apiErr APIError

	switch {
	case errors.Is(err, models.ErrCampaignNotFound), errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: "Campaign not found"}
	case errors.Is(err, models.ErrForbidden):
		statusCode = http.StatusForbidden
		apiErr = APIError{Message: "Player does not own this campaign"}
	case errors.Is(err, models.ErrTurnConflict):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: "Turn already committed by a concurrent request"}
	case errors.Is(err, models.ErrTurnAborted):
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Turn aborted; no changes were committed"}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Internal server error"}
	}
	return c.JSON(statusCode, apiErr)
}
