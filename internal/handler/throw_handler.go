package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/growth"
	"github.com/kursadbilgin/podledger/internal/reconcile"
	"github.com/kursadbilgin/podledger/internal/service"
)

// Minter submits throws and harvests to the ledger.
type Minter interface {
	MintThrow(ctx context.Context, m domain.ThrowMetadata) (service.MintResult, error)
	RecordHarvest(ctx context.Context, h domain.Harvest) (service.HarvestResult, error)
}

type ThrowHandler struct {
	engine  Engine
	minter  Minter
	catalog *growth.Catalog
	now     func() time.Time
}

func NewThrowHandler(engine Engine, minter Minter, catalog *growth.Catalog) (*ThrowHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if minter == nil {
		return nil, fmt.Errorf("minter is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("growth catalog is required")
	}
	return &ThrowHandler{engine: engine, minter: minter, catalog: catalog, now: time.Now}, nil
}

func RegisterThrowRoutes(router fiber.Router, engine Engine, minter Minter, catalog *growth.Catalog) error {
	h, err := NewThrowHandler(engine, minter, catalog)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/throws", h.ListThrows)
	v1.Post("/throws", h.MintThrow)
	v1.Post("/throws/refresh", h.RefreshThrows)
	v1.Get("/throws/:id", h.GetThrow)
	v1.Get("/growth-models", h.ListGrowthModels)

	return nil
}

type mintThrowRequest struct {
	PodTypeID     string `json:"podTypeId"`
	PodTypeName   string `json:"podTypeName"`
	PodTypeIcon   string `json:"podTypeIcon"`
	ThrowDate     string `json:"throwDate"`
	LocationLabel string `json:"locationLabel"`
	GrowthModelID string `json:"growthModelId"`
}

type throwListResponse struct {
	Address      string          `json:"address"`
	Phase        reconcile.Phase `json:"phase"`
	Loading      bool            `json:"loading"`
	Polling      bool            `json:"polling"`
	Error        string          `json:"error,omitempty"`
	PendingCount int             `json:"pendingCount"`
	Throws       []domain.Throw  `json:"throws"`
}

type throwDetailResponse struct {
	Throw     domain.Throw     `json:"throw"`
	Model     string           `json:"growthModel,omitempty"`
	Current   *growth.Progress `json:"currentStage,omitempty"`
	NextStage *growth.Stage    `json:"nextStage,omitempty"`
}

func (h *ThrowHandler) ListThrows(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(toThrowListResponse(h.engine.Snapshot()))
}

// RefreshThrows fetches synchronously. A failed fetch is reported in the
// body's error field, not as an HTTP error.
func (h *ThrowHandler) RefreshThrows(c *fiber.Ctx) error {
	snapshot := h.engine.Refresh(c.UserContext())
	if snapshot.Address == "" {
		return domain.ErrNoSession
	}
	return c.Status(fiber.StatusOK).JSON(toThrowListResponse(snapshot))
}

func (h *ThrowHandler) MintThrow(c *fiber.Ctx) error {
	var req mintThrowRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	m := domain.ThrowMetadata{
		PodTypeID:     strings.TrimSpace(req.PodTypeID),
		PodTypeName:   strings.TrimSpace(req.PodTypeName),
		PodTypeIcon:   strings.TrimSpace(req.PodTypeIcon),
		LocationLabel: strings.TrimSpace(req.LocationLabel),
		GrowthModelID: strings.TrimSpace(req.GrowthModelID),
	}
	if m.GrowthModelID == "" {
		m.GrowthModelID = domain.DefaultGrowthModelID
	}
	if _, ok := h.catalog.Model(m.GrowthModelID); !ok {
		return fmt.Errorf("%w: unknown growth model %q", domain.ErrValidation, m.GrowthModelID)
	}

	throwDate, err := parseOptionalTime(req.ThrowDate, "throwDate")
	if err != nil {
		return err
	}
	m.ThrowDate = throwDate

	result, err := h.minter.MintThrow(c.UserContext(), m)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *ThrowHandler) GetThrow(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	t, ok := h.engine.Find(id)
	if !ok {
		return fmt.Errorf("%w: throw %s", domain.ErrNotFound, id)
	}

	resp := throwDetailResponse{Throw: t}
	if model, ok := h.catalog.Model(t.GrowthModelID); ok {
		now := h.now()
		current := growth.CurrentStage(t.ThrowDate, model, now)
		resp.Model = model.Name
		resp.Current = &current
		if next, ok := growth.NextStage(t.ThrowDate, model, now); ok {
			resp.NextStage = &next
		}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *ThrowHandler) ListGrowthModels(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": h.catalog.Models(),
	})
}

func toThrowListResponse(s reconcile.Snapshot) throwListResponse {
	throws := s.Throws
	if throws == nil {
		throws = []domain.Throw{}
	}
	return throwListResponse{
		Address:      s.Address,
		Phase:        s.Phase,
		Loading:      s.Loading,
		Polling:      s.Polling,
		Error:        s.Error,
		PendingCount: s.PendingCount,
		Throws:       throws,
	}
}

func parseOptionalTime(value string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return t.UTC(), nil
}
