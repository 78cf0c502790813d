package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultGrowthModelID is used when a decoded throw note carries no model.
const DefaultGrowthModelID = "temperate-herb"

// Throw is a single seed pod throw. A pending throw is only known locally; a
// confirmed throw mirrors an asset the indexer reported for the address.
type Throw struct {
	LocalID       string    `json:"localId"`
	AssetID       uint64    `json:"asaId"`
	TxID          string    `json:"txId"`
	ThrowDate     time.Time `json:"throwDate"`
	ConfirmedAt   time.Time `json:"confirmedAt,omitempty"`
	PodTypeID     string    `json:"podTypeId"`
	PodTypeName   string    `json:"podTypeName"`
	PodTypeIcon   string    `json:"podTypeIcon"`
	LocationLabel string    `json:"locationLabel"`
	GrowthModelID string    `json:"growthModelId"`
	ThrownBy      string    `json:"thrownBy"`
	ExplorerURL   string    `json:"explorerUrl,omitempty"`
	IsPending     bool      `json:"isPending"`
	CreatedAt     int64     `json:"createdAt,omitempty"`
}

// HasAssetID reports whether the throw has been assigned a ledger identity.
func (t Throw) HasAssetID() bool { return t.AssetID > 0 }

// ChainLocalID is the local id given to throws that were first seen on chain.
func ChainLocalID(assetID uint64) string {
	return fmt.Sprintf("chain-%d", assetID)
}

// RecordID is the id notifications and journal entries reference.
func (t Throw) RecordID() string {
	if t.HasAssetID() {
		return ChainLocalID(t.AssetID)
	}
	return t.LocalID
}

// CreatedAtTime converts the pending creation stamp to a time.
func (t Throw) CreatedAtTime() time.Time {
	if t.CreatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.CreatedAt)
}

// ThrowMetadata is the payload written into the asset-create note.
type ThrowMetadata struct {
	PodTypeID     string    `json:"podTypeId"`
	PodTypeName   string    `json:"podTypeName"`
	PodTypeIcon   string    `json:"podTypeIcon"`
	ThrowDate     time.Time `json:"throwDate"`
	LocationLabel string    `json:"locationLabel"`
	GrowthModelID string    `json:"growthModelId"`
	ThrownBy      string    `json:"thrownBy"`
	Version       int       `json:"version"`
}

func (m *ThrowMetadata) Validate() error {
	if strings.TrimSpace(m.PodTypeID) == "" {
		return fmt.Errorf("%w: podTypeId is required", ErrValidation)
	}
	if strings.TrimSpace(m.PodTypeName) == "" {
		return fmt.Errorf("%w: podTypeName is required", ErrValidation)
	}
	if strings.TrimSpace(m.GrowthModelID) == "" {
		return fmt.Errorf("%w: growthModelId is required", ErrValidation)
	}
	if m.ThrowDate.IsZero() {
		return fmt.Errorf("%w: throwDate is required", ErrValidation)
	}
	return nil
}

// AssetName is the on-chain asset name, capped at the ledger's 32 byte limit.
func (m *ThrowMetadata) AssetName() string {
	name := strings.TrimSpace(fmt.Sprintf("Eden Throw %s %s", m.PodTypeIcon, m.PodTypeName))
	for len(name) > 32 {
		r := []rune(name)
		name = string(r[:len(r)-1])
	}
	return name
}
