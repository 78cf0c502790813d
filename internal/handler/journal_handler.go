package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
)

type Journal interface {
	AddObservation(ctx context.Context, o *domain.Observation) (*domain.Observation, error)
	ListObservations(ctx context.Context, throwID string) ([]domain.Observation, error)
	AddLocalHarvest(ctx context.Context, h *domain.LocalHarvest) (*domain.LocalHarvest, error)
	ListLocalHarvests(ctx context.Context, throwID string) ([]domain.LocalHarvest, error)
}

type JournalHandler struct {
	engine  Engine
	minter  Minter
	journal Journal
}

func NewJournalHandler(engine Engine, minter Minter, journal Journal) (*JournalHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if minter == nil {
		return nil, fmt.Errorf("minter is required")
	}
	if journal == nil {
		return nil, fmt.Errorf("journal is required")
	}
	return &JournalHandler{engine: engine, minter: minter, journal: journal}, nil
}

func RegisterJournalRoutes(router fiber.Router, engine Engine, minter Minter, journal Journal) error {
	h, err := NewJournalHandler(engine, minter, journal)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/harvests", h.ListHarvests)
	v1.Post("/harvests", h.RecordHarvest)
	v1.Get("/observations", h.ListObservations)
	v1.Post("/observations", h.AddObservation)

	return nil
}

type recordHarvestRequest struct {
	// Local keeps the harvest in the journal instead of writing it on chain.
	Local         bool   `json:"local"`
	ThrowID       string `json:"throwId"`
	ThrowAssetID  uint64 `json:"throwAsaId"`
	PlantID       string `json:"plantId"`
	QuantityClass string `json:"quantityClass"`
	HarvestedAt   string `json:"harvestedAt"`
	Notes         string `json:"notes"`
}

type addObservationRequest struct {
	ThrowID    string `json:"throwId"`
	StageID    string `json:"stageId"`
	ObservedAt string `json:"observedAt"`
	Notes      string `json:"notes"`
}

type harvestListResponse struct {
	OnChain []domain.Harvest      `json:"onChain"`
	Local   []domain.LocalHarvest `json:"local"`
}

func (h *JournalHandler) ListHarvests(c *fiber.Ctx) error {
	throwID := strings.TrimSpace(c.Query("throwId"))

	local, err := h.journal.ListLocalHarvests(c.UserContext(), throwID)
	if err != nil {
		return err
	}

	onChain := make([]domain.Harvest, 0)
	for _, hv := range h.engine.Snapshot().Harvests {
		if throwID == "" || domain.ChainLocalID(hv.ThrowAssetID) == throwID {
			onChain = append(onChain, hv)
		}
	}

	return c.Status(fiber.StatusOK).JSON(harvestListResponse{OnChain: onChain, Local: local})
}

func (h *JournalHandler) RecordHarvest(c *fiber.Ctx) error {
	var req recordHarvestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	quantity := domain.QuantitySmall
	if strings.TrimSpace(req.QuantityClass) != "" {
		q, err := domain.ParseQuantityClass(req.QuantityClass)
		if err != nil {
			return err
		}
		quantity = q
	}

	harvestedAt, err := parseOptionalTime(req.HarvestedAt, "harvestedAt")
	if err != nil {
		return err
	}

	if req.Local {
		created, err := h.journal.AddLocalHarvest(c.UserContext(), &domain.LocalHarvest{
			ThrowID:       strings.TrimSpace(req.ThrowID),
			PlantID:       strings.TrimSpace(req.PlantID),
			QuantityClass: quantity,
			HarvestedAt:   harvestedAt,
			Notes:         strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	}

	result, err := h.minter.RecordHarvest(c.UserContext(), domain.Harvest{
		ThrowAssetID:  req.ThrowAssetID,
		PlantID:       strings.TrimSpace(req.PlantID),
		QuantityClass: quantity,
		HarvestedAt:   harvestedAt,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *JournalHandler) ListObservations(c *fiber.Ctx) error {
	observations, err := h.journal.ListObservations(c.UserContext(), c.Query("throwId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": observations})
}

func (h *JournalHandler) AddObservation(c *fiber.Ctx) error {
	var req addObservationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	observedAt, err := parseOptionalTime(req.ObservedAt, "observedAt")
	if err != nil {
		return err
	}

	created, err := h.journal.AddObservation(c.UserContext(), &domain.Observation{
		ThrowID:    req.ThrowID,
		StageID:    req.StageID,
		ObservedAt: observedAt,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}
