package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/repository"
	"go.uber.org/zap"
)

// JournalService keeps the off-chain garden journal: stage observations and
// harvests that were never written to the ledger.
type JournalService struct {
	journal repository.JournalRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewJournalService(journal repository.JournalRepository, logger *zap.Logger) (*JournalService, error) {
	if journal == nil {
		return nil, fmt.Errorf("journal repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JournalService{journal: journal, logger: logger, now: time.Now}, nil
}

func (s *JournalService) AddObservation(ctx context.Context, o *domain.Observation) (*domain.Observation, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: observation is required", domain.ErrValidation)
	}

	o.ThrowID = strings.TrimSpace(o.ThrowID)
	o.StageID = strings.TrimSpace(o.StageID)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = s.now().UTC()
	}

	if err := s.journal.CreateObservation(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to store observation: %w", err)
	}

	s.logger.Debug("observation recorded", zap.String("throw_id", o.ThrowID), zap.String("stage_id", o.StageID))
	return o, nil
}

func (s *JournalService) AddLocalHarvest(ctx context.Context, h *domain.LocalHarvest) (*domain.LocalHarvest, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: harvest is required", domain.ErrValidation)
	}

	if h.QuantityClass == "" {
		h.QuantityClass = domain.QuantitySmall
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.HarvestedAt.IsZero() {
		h.HarvestedAt = s.now().UTC()
	}

	if err := s.journal.CreateLocalHarvest(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to store harvest: %w", err)
	}

	s.logger.Debug("local harvest recorded", zap.String("throw_id", h.ThrowID), zap.String("plant_id", h.PlantID))
	return h, nil
}

func (s *JournalService) ListObservations(ctx context.Context, throwID string) ([]domain.Observation, error) {
	out, err := s.journal.ListObservations(ctx, strings.TrimSpace(throwID))
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	return out, nil
}

func (s *JournalService) ListLocalHarvests(ctx context.Context, throwID string) ([]domain.LocalHarvest, error) {
	out, err := s.journal.ListLocalHarvests(ctx, strings.TrimSpace(throwID))
	if err != nil {
		return nil, fmt.Errorf("failed to list harvests: %w", err)
	}
	return out, nil
}
