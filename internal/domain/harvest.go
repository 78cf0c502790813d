package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuantityClass is a coarse harvest size.
type QuantityClass string

const (
	QuantitySmall  QuantityClass = "small"
	QuantityMedium QuantityClass = "medium"
	QuantityLarge  QuantityClass = "large"
)

func (q QuantityClass) String() string { return string(q) }

func (q QuantityClass) IsValid() bool {
	switch q {
	case QuantitySmall, QuantityMedium, QuantityLarge:
		return true
	}
	return false
}

// Grams is the rough weight a quantity class stands for.
func (q QuantityClass) Grams() int {
	switch q {
	case QuantitySmall:
		return 50
	case QuantityMedium:
		return 150
	case QuantityLarge:
		return 400
	}
	return 0
}

func ParseQuantityClass(s string) (QuantityClass, error) {
	q := QuantityClass(strings.ToLower(strings.TrimSpace(s)))
	if !q.IsValid() {
		return "", fmt.Errorf("%w: invalid quantity class %q", ErrValidation, s)
	}
	return q, nil
}

// Harvest is a harvest recorded on chain as a zero-amount payment note.
type Harvest struct {
	TxID          string        `json:"txId"`
	ThrowAssetID  uint64        `json:"throwAsaId"`
	PlantID       string        `json:"plantId"`
	QuantityClass QuantityClass `json:"quantityClass"`
	HarvestedAt   time.Time     `json:"harvestedAt"`
	Notes         string        `json:"notes"`
	ConfirmedAt   time.Time     `json:"confirmedAt"`
}

func (h *Harvest) Validate() error {
	if h.ThrowAssetID == 0 {
		return fmt.Errorf("%w: throwAsaId is required", ErrValidation)
	}
	if strings.TrimSpace(h.PlantID) == "" {
		return fmt.Errorf("%w: plantId is required", ErrValidation)
	}
	if !h.QuantityClass.IsValid() {
		return fmt.Errorf("%w: invalid quantity class %q", ErrValidation, h.QuantityClass)
	}
	return nil
}

// LocalHarvest is a harvest kept only in the local journal.
type LocalHarvest struct {
	ID            string        `json:"id"`
	ThrowID       string        `json:"throwId"`
	PlantID       string        `json:"plantId"`
	QuantityClass QuantityClass `json:"quantityClass"`
	HarvestedAt   time.Time     `json:"harvestedAt"`
	Notes         string        `json:"notes"`
}

func (h *LocalHarvest) Validate() error {
	if strings.TrimSpace(h.ThrowID) == "" {
		return fmt.Errorf("%w: throwId is required", ErrValidation)
	}
	if strings.TrimSpace(h.PlantID) == "" {
		return fmt.Errorf("%w: plantId is required", ErrValidation)
	}
	if !h.QuantityClass.IsValid() {
		return fmt.Errorf("%w: invalid quantity class %q", ErrValidation, h.QuantityClass)
	}
	return nil
}

// Observation records that a stage was seen for a throw.
type Observation struct {
	ID         string    `json:"id"`
	ThrowID    string    `json:"throwId"`
	StageID    string    `json:"stageId"`
	ObservedAt time.Time `json:"observedAt"`
	Notes      string    `json:"notes"`
}

func (o *Observation) Validate() error {
	if strings.TrimSpace(o.ThrowID) == "" {
		return fmt.Errorf("%w: throwId is required", ErrValidation)
	}
	if strings.TrimSpace(o.StageID) == "" {
		return fmt.Errorf("%w: stageId is required", ErrValidation)
	}
	return nil
}
