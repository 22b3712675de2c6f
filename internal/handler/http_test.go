package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpg-server/internal/database"
	"rpg-server/internal/engine"
	"rpg-server/internal/models"
	"rpg-server/internal/service"
)

type stubRunner struct {
	response *models.TurnResponse
	err      error
}

func (r *stubRunner) RunTurn(_ context.Context, _ models.Projection, _ uuid.UUID, _ string, _ engine.Sink) (*models.TurnResponse, error) {
	return r.response, r.err
}

type stubCache struct {
	projection *models.Projection
}

func (c *stubCache) Get(_ context.Context, _ uuid.UUID) (*models.Projection, error) {
	if c.projection == nil {
		return nil, models.ErrNotFound
	}
	return c.projection, nil
}
func (c *stubCache) Set(_ context.Context, _ models.Projection) error { return nil }
func (c *stubCache) Invalidate(_ context.Context, _ uuid.UUID) error  { return nil }

type stubProjectionRepo struct {
	database.ProjectionRepository
}

func (r *stubProjectionRepo) Get(_ context.Context, _ database.DBTX, _ uuid.UUID) (*models.Projection, error) {
	return nil, models.ErrNotFound
}

type stubRebuilder struct{}

func (stubRebuilder) Rebuild(_ context.Context, _ uuid.UUID) (*models.Projection, error) {
	return nil, models.ErrCampaignNotFound
}

func newTestHandler(runner *stubRunner, cache *stubCache) *TurnHandler {
	svc := service.NewTurnService(runner, nil, stubRebuilder{},
		nil, &stubProjectionRepo{}, nil, cache, nil, zap.NewNop())
	return NewTurnHandler(svc, zap.NewNop())
}

func doRequest(h *TurnHandler, method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTurnHandler_ExecuteTurn(t *testing.T) {
	campaignID := uuid.New()
	playerID := uuid.New()
	projection := models.Projection{
		CampaignID: campaignID,
		TurnNumber: 3,
		Player:     models.PlayerState{PlayerID: playerID, Name: "Arden"},
		World:      models.WorldState{LocationID: "crossroads"},
	}
	turnsURL := "/api/campaigns/" + campaignID.String() + "/turns"

	t.Run("committed turn returns the response", func(t *testing.T) {
		runner := &stubRunner{response: &models.TurnResponse{
			CampaignID:   campaignID,
			TurnNumber:   4,
			NarratedText: "You press on.",
			Suggestions:  []string{"a", "b", "c"},
			Warnings:     []string{},
		}}
		h := newTestHandler(runner, &stubCache{projection: &projection})

		rec := doRequest(h, http.MethodPost, turnsURL,
			`{"playerId":"`+playerID.String()+`","input":"go north"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp models.TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 4, resp.TurnNumber)
		assert.Equal(t, "You press on.", resp.NarratedText)
	})

	t.Run("invalid campaign id is a 400", func(t *testing.T) {
		h := newTestHandler(&stubRunner{}, &stubCache{})
		rec := doRequest(h, http.MethodPost, "/api/campaigns/not-a-uuid/turns",
			`{"playerId":"`+playerID.String()+`","input":"go"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing input fails validation", func(t *testing.T) {
		h := newTestHandler(&stubRunner{}, &stubCache{projection: &projection})
		rec := doRequest(h, http.MethodPost, turnsURL,
			`{"playerId":"`+playerID.String()+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong player is a 403", func(t *testing.T) {
		h := newTestHandler(&stubRunner{}, &stubCache{projection: &projection})
		rec := doRequest(h, http.MethodPost, turnsURL,
			`{"playerId":"`+uuid.NewString()+`","input":"go north"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown campaign is a 404", func(t *testing.T) {
		h := newTestHandler(&stubRunner{}, &stubCache{})
		rec := doRequest(h, http.MethodPost, turnsURL,
			`{"playerId":"`+playerID.String()+`","input":"go north"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("concurrent commit maps to 409 even through the abort", func(t *testing.T) {
		runner := &stubRunner{err: errors.Join(models.ErrTurnAborted, models.ErrTurnConflict)}
		h := newTestHandler(runner, &stubCache{projection: &projection})

		rec := doRequest(h, http.MethodPost, turnsURL,
			`{"playerId":"`+playerID.String()+`","input":"go north"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("aborted turn maps to 500", func(t *testing.T) {
		runner := &stubRunner{err: errors.Join(models.ErrTurnAborted, errors.New("stage bug"))}
		h := newTestHandler(runner, &stubCache{projection: &projection})

		rec := doRequest(h, http.MethodPost, turnsURL,
			`{"playerId":"`+playerID.String()+`","input":"go north"}`)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var apiErr APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
		assert.Equal(t, "Turn aborted; no changes were committed", apiErr.Message)
	})
}

func TestTurnHandler_GetCampaignState(t *testing.T) {
	campaignID := uuid.New()
	projection := models.Projection{
		CampaignID: campaignID,
		TurnNumber: 7,
		Player:     models.PlayerState{PlayerID: uuid.New(), Name: "Arden"},
		World:      models.WorldState{LocationID: "forest"},
	}

	t.Run("known campaign returns the projection", func(t *testing.T) {
		h := newTestHandler(&stubRunner{}, &stubCache{projection: &projection})
		rec := doRequest(h, http.MethodGet, "/api/campaigns/"+campaignID.String(), "")

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Projection
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 7, got.TurnNumber)
		assert.Equal(t, "forest", got.World.LocationID)
	})

	t.Run("unknown campaign is a 404", func(t *testing.T) {
		h := newTestHandler(&stubRunner{}, &stubCache{})
		rec := doRequest(h, http.MethodGet, "/api/campaigns/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTurnHandler_CreateCampaign_Validation(t *testing.T) {
	h := newTestHandler(&stubRunner{}, &stubCache{})

	t.Run("missing name", func(t *testing.T) {
		rec := doRequest(h, http.MethodPost, "/api/campaigns", `{"playerName":"Arden"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(h, http.MethodPost, "/api/campaigns", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(&stubRunner{}, &stubCache{})
	rec := doRequest(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
