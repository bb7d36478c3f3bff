// Package api wires the HTTP boundary: decoding the request envelope,
// running the validator and the phase pipeline, and formatting the
// response per the error-handling contract.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akshayaggarwal99/boxed/internal/policy"
	"github.com/akshayaggarwal99/boxed/internal/proto"
	"github.com/akshayaggarwal99/boxed/internal/runner"
	"github.com/akshayaggarwal99/boxed/internal/validate"
)

// Runner is the subset of *runner.Runner the Handler depends on.
// Satisfied by *runner.Runner; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, req *proto.Request) (*proto.Response, error)
}

// Handler holds the dependencies needed to serve the run endpoint.
type Handler struct {
	policy *policy.Policy
	runner Runner
	log    zerolog.Logger
}

// New returns a Handler.
func New(p *policy.Policy, r Runner, log zerolog.Logger) *Handler {
	return &Handler{policy: p, runner: r, log: log}
}

// Register mounts the handler's routes onto e.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/run", h.Run)
}

// Run serves POST /run.
func (h *Handler) Run(c echo.Context) error {
	var req proto.Request
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, err.Error())
	}

	if err := validate.Request(h.policy, &req); err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			return writeError(c, http.StatusBadRequest, verr.Message)
		}
		return writeError(c, http.StatusBadRequest, err.Error())
	}

	resp, err := h.runner.Run(c.Request().Context(), &req)
	if err != nil {
		var rerr *runner.RunError
		if errors.As(err, &rerr) {
			return writeError(c, rerr.Status, rerr.Message)
		}
		h.log.Error().Err(err).Msg("unhandled runner error")
		return writeError(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, resp)
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, proto.ErrorResponse{Status: uint16(status), Message: message})
}
