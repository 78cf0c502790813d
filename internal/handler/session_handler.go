package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/reconcile"
)

// Engine is the reconciliation engine as seen by the HTTP surface.
type Engine interface {
	SetAddress(ctx context.Context, address string)
	Refresh(ctx context.Context) reconcile.Snapshot
	Snapshot() reconcile.Snapshot
	Find(id string) (domain.Throw, bool)
}

type SessionHandler struct {
	engine Engine
}

func NewSessionHandler(engine Engine) (*SessionHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	return &SessionHandler{engine: engine}, nil
}

func RegisterSessionRoutes(router fiber.Router, engine Engine) error {
	h, err := NewSessionHandler(engine)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/session", h.GetSession)
	v1.Put("/session", h.SetSession)
	v1.Delete("/session", h.ClearSession)

	return nil
}

type setSessionRequest struct {
	Address string `json:"address"`
}

type sessionResponse struct {
	Address      string          `json:"address"`
	Phase        reconcile.Phase `json:"phase"`
	Loading      bool            `json:"loading"`
	Polling      bool            `json:"polling"`
	PendingCount int             `json:"pendingCount"`
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(h.engine.Snapshot()))
}

func (h *SessionHandler) SetSession(c *fiber.Ctx) error {
	var req setSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	address := strings.TrimSpace(req.Address)
	if address == "" {
		return fmt.Errorf("%w: address is required", domain.ErrValidation)
	}

	h.engine.SetAddress(c.UserContext(), address)
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(h.engine.Snapshot()))
}

func (h *SessionHandler) ClearSession(c *fiber.Ctx) error {
	h.engine.SetAddress(c.UserContext(), "")
	return c.SendStatus(fiber.StatusNoContent)
}

func toSessionResponse(s reconcile.Snapshot) sessionResponse {
	return sessionResponse{
		Address:      s.Address,
		Phase:        s.Phase,
		Loading:      s.Loading,
		Polling:      s.Polling,
		PendingCount: s.PendingCount,
	}
}
