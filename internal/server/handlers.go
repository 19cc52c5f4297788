package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelens/edrisk/internal/engine"
	"github.com/carelens/edrisk/internal/session"
)

// TurnHandler serves the conversational API.
type TurnHandler struct {
	Engine  *engine.Engine
	Timeout time.Duration
}

// Turn runs one turn: bind, process, reply.
func (h *TurnHandler) Turn(c echo.Context) error {
	var req engine.TurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	res, err := h.Engine.Turn(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return echo.NewHTTPError(http.StatusGatewayTimeout, "turn timed out")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// Session returns the stored state for an existing session.
func (h *TurnHandler) Session(c echo.Context) error {
	s, err := h.Engine.Session(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}
