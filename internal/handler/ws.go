package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway terminates auth and origin policy in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the framing for everything sent over the stream socket.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsTurnRequest is the single request read from a stream connection.
type wsTurnRequest struct {
	PlayerID string `json:"playerId" validate:"required,uuid4"`
	Input    string `json:"input" validate:"required,min=1,max=2000"`
}

// wsSink streams narration tokens to the connected client as they validate.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Emit(token string) error {
	return s.conn.WriteJSON(wsMessage{Type: "token", Data: token})
}

// streamTurn runs one turn over a websocket: the client sends a single turn
// request, receives narration tokens as they are produced, then the final
// turn response, and the connection closes.
func (h *TurnHandler) streamTurn(c echo.Context) error {
	campaignID, err := parseCampaignID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid campaign ID format"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	var req wsTurnRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(wsMessage{Type: "error", Data: "invalid turn request"})
		return nil
	}
	if err := h.validate.Struct(req); err != nil {
		_ = conn.WriteJSON(wsMessage{Type: "error", Data: "validation failed: " + err.Error()})
		return nil
	}
	playerID, err := uuid.Parse(req.PlayerID)
	if err != nil {
		_ = conn.WriteJSON(wsMessage{Type: "error", Data: "invalid playerId format"})
		return nil
	}

	response, err := h.service.ExecuteTurn(c.Request().Context(), campaignID, playerID, req.Input, &wsSink{conn: conn})
	if err != nil {
		if !expectedTurnError(err) {
			h.logger.Error("Failed to execute streamed turn",
				zap.String("campaignId", campaignID.String()), zap.Error(err))
		}
		_ = conn.WriteJSON(wsMessage{Type: "error", Data: "turn failed; no changes were committed"})
		return nil
	}

	if err := conn.WriteJSON(wsMessage{Type: "turn", Data: response}); err != nil {
		h.logger.Debug("Client disconnected before final turn frame", zap.Error(err))
	}
	return nil
}
