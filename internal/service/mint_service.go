package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/indexer"
	"github.com/kursadbilgin/podledger/internal/ledger"
	"github.com/kursadbilgin/podledger/internal/observability"
	"go.uber.org/zap"
)

const (
	submissionKindThrow   = "throw"
	submissionKindHarvest = "harvest"

	resultOK        = "ok"
	resultCancelled = "cancelled"
	resultFailed    = "failed"
)

// Session is the part of the reconciliation engine the submission flows drive.
type Session interface {
	Address() string
	AddPending(ctx context.Context, t domain.Throw) (domain.Throw, error)
	AssignAssetID(ctx context.Context, localID string, assetID uint64) error
	DiscardPending(ctx context.Context, localID string) error
	RequestRefresh()
}

// Ledger submits signed transactions and waits for them to land.
type Ledger interface {
	SuggestedParams(ctx context.Context) (ledger.SuggestedParams, error)
	SendRaw(ctx context.Context, signed []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txID string, rounds uint64) (ledger.PendingTxn, error)
}

type MintResult struct {
	Throw          domain.Throw `json:"throw"`
	TxID           string       `json:"txId"`
	AssetID        uint64       `json:"asaId"`
	ConfirmedRound uint64       `json:"confirmedRound"`
}

type HarvestResult struct {
	Harvest        domain.Harvest `json:"harvest"`
	TxID           string         `json:"txId"`
	ConfirmedRound uint64         `json:"confirmedRound"`
}

// MintService records throws and harvests on the ledger.
type MintService struct {
	session Session
	ledger  Ledger
	signer  ledger.Signer
	rounds  uint64
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewMintService(
	session Session,
	l Ledger,
	signer ledger.Signer,
	rounds uint64,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*MintService, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if l == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if rounds == 0 {
		rounds = ledger.DefaultConfirmationRounds
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MintService{
		session: session,
		ledger:  l,
		signer:  signer,
		rounds:  rounds,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// MintThrow shows the throw as pending straight away, then creates its asset.
// The pending throw learns its asset id on confirmation; any failure removes
// it again. A wallet cancellation is reported as domain.ErrSigningCancelled.
func (s *MintService) MintThrow(ctx context.Context, m domain.ThrowMetadata) (MintResult, error) {
	address := s.session.Address()
	if address == "" {
		return MintResult{}, domain.ErrNoSession
	}

	if m.ThrowDate.IsZero() {
		m.ThrowDate = s.now().UTC()
	}
	if strings.TrimSpace(m.ThrownBy) == "" {
		m.ThrownBy = address
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if err := m.Validate(); err != nil {
		return MintResult{}, err
	}

	pending, err := s.session.AddPending(ctx, domain.Throw{
		ThrowDate:     m.ThrowDate,
		PodTypeID:     m.PodTypeID,
		PodTypeName:   m.PodTypeName,
		PodTypeIcon:   m.PodTypeIcon,
		LocationLabel: m.LocationLabel,
		GrowthModelID: m.GrowthModelID,
		ThrownBy:      m.ThrownBy,
	})
	if err != nil {
		return MintResult{}, err
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("local_id", pending.LocalID))

	note, err := indexer.EncodeThrowNote(m)
	if err != nil {
		return MintResult{}, s.abortThrow(ctx, logger, pending.LocalID, err)
	}

	txID, confirmed, err := s.submit(ctx, address, func(sp ledger.SuggestedParams) (ledger.Txn, error) {
		return ledger.NewThrowAssetTxn(address, m, note, sp)
	})
	if err != nil {
		return MintResult{}, s.abortThrow(ctx, logger, pending.LocalID, err)
	}

	pending.TxID = txID
	result := MintResult{Throw: pending, TxID: txID, AssetID: confirmed.AssetIndex, ConfirmedRound: confirmed.ConfirmedRound}

	if confirmed.AssetIndex == 0 {
		// Without an asset id the throw can only age out; the indexer will
		// report it as a new confirmed throw.
		logger.Warn("confirmed throw carries no asset id", zap.String("tx_id", txID))
	} else if err := s.session.AssignAssetID(ctx, pending.LocalID, confirmed.AssetIndex); err != nil {
		logger.Warn("failed to assign asset id to pending throw",
			zap.Uint64("asa_id", confirmed.AssetIndex), zap.Error(err))
	} else {
		result.Throw.AssetID = confirmed.AssetIndex
	}

	s.session.RequestRefresh()
	s.metrics.IncSubmission(submissionKindThrow, resultOK)
	logger.Info("throw confirmed",
		zap.String("tx_id", txID),
		zap.Uint64("asa_id", confirmed.AssetIndex),
		zap.Uint64("round", confirmed.ConfirmedRound),
	)
	return result, nil
}

// RecordHarvest writes a harvest note as a zero-amount payment to self.
func (s *MintService) RecordHarvest(ctx context.Context, h domain.Harvest) (HarvestResult, error) {
	address := s.session.Address()
	if address == "" {
		return HarvestResult{}, domain.ErrNoSession
	}

	if h.QuantityClass == "" {
		h.QuantityClass = domain.QuantitySmall
	}
	if h.HarvestedAt.IsZero() {
		h.HarvestedAt = s.now().UTC()
	}
	if err := h.Validate(); err != nil {
		return HarvestResult{}, err
	}

	note, err := indexer.EncodeHarvestNote(h)
	if err != nil {
		return HarvestResult{}, fmt.Errorf("failed to encode harvest note: %w", err)
	}

	txID, confirmed, err := s.submit(ctx, address, func(sp ledger.SuggestedParams) (ledger.Txn, error) {
		return ledger.NewPaymentTxn(address, address, 0, note, sp)
	})
	if err != nil {
		s.metrics.IncSubmission(submissionKindHarvest, submissionResult(err))
		return HarvestResult{}, err
	}

	h.TxID = txID
	h.ConfirmedAt = s.now().UTC()
	s.session.RequestRefresh()
	s.metrics.IncSubmission(submissionKindHarvest, resultOK)

	observability.WithContextLogger(s.logger, ctx).Info("harvest recorded",
		zap.String("tx_id", txID),
		zap.Uint64("throw_asa_id", h.ThrowAssetID),
	)
	return HarvestResult{Harvest: h, TxID: txID, ConfirmedRound: confirmed.ConfirmedRound}, nil
}

// submit builds one transaction, has it signed and waits for confirmation.
func (s *MintService) submit(
	ctx context.Context,
	address string,
	build func(sp ledger.SuggestedParams) (ledger.Txn, error),
) (string, ledger.PendingTxn, error) {
	sp, err := s.ledger.SuggestedParams(ctx)
	if err != nil {
		return "", ledger.PendingTxn{}, err
	}

	txn, err := build(sp)
	if err != nil {
		return "", ledger.PendingTxn{}, err
	}

	signed, err := s.signer.Sign(ctx, []ledger.Txn{txn}, address)
	if err != nil {
		if errors.Is(err, domain.ErrSigningCancelled) {
			return "", ledger.PendingTxn{}, err
		}
		return "", ledger.PendingTxn{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if len(signed) == 0 {
		return "", ledger.PendingTxn{}, fmt.Errorf("signer returned no transactions")
	}

	txID, err := s.ledger.SendRaw(ctx, signed[0])
	if err != nil {
		return "", ledger.PendingTxn{}, err
	}

	confirmed, err := s.ledger.WaitForConfirmation(ctx, txID, s.rounds)
	if err != nil {
		return txID, ledger.PendingTxn{}, err
	}
	return txID, confirmed, nil
}

func (s *MintService) abortThrow(ctx context.Context, logger *zap.Logger, localID string, cause error) error {
	if err := s.session.DiscardPending(context.WithoutCancel(ctx), localID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("failed to discard pending throw", zap.Error(err))
	}

	result := submissionResult(cause)
	s.metrics.IncSubmission(submissionKindThrow, result)
	if result == resultCancelled {
		logger.Info("throw signing cancelled")
	} else {
		logger.Warn("throw submission failed", zap.Error(cause))
	}
	return cause
}

func submissionResult(err error) string {
	if errors.Is(err, domain.ErrSigningCancelled) {
		return resultCancelled
	}
	return resultFailed
}
