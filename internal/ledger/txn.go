// Package ledger builds unsigned transaction descriptors, hands them to a
// wallet signer and submits the signed bytes to an algod node.
package ledger

import (
	"fmt"

	"github.com/kursadbilgin/podledger/internal/domain"
)

const (
	TypeAssetConfig = "acfg"
	TypePayment     = "pay"

	ThrowUnitName = "THROW"
	ThrowAssetURL = "https://edenpods.earth"

	validityWindow = 1000
)

// SuggestedParams mirrors algod's /v2/transactions/params response.
type SuggestedParams struct {
	Fee         uint64 `json:"fee"`
	MinFee      uint64 `json:"min-fee"`
	LastRound   uint64 `json:"last-round"`
	GenesisID   string `json:"genesis-id"`
	GenesisHash string `json:"genesis-hash"`
}

type AssetParams struct {
	Total         uint64 `json:"total"`
	Decimals      uint32 `json:"decimals"`
	DefaultFrozen bool   `json:"defaultFrozen"`
	UnitName      string `json:"unitName"`
	AssetName     string `json:"assetName"`
	URL           string `json:"url"`
	Manager       string `json:"manager"`
	Reserve       string `json:"reserve"`
}

// Txn is the unsigned transaction handed to the wallet signer. Encoding and
// signing are the signer's concern.
type Txn struct {
	Type        string       `json:"type"`
	Sender      string       `json:"sender"`
	Receiver    string       `json:"receiver,omitempty"`
	Amount      uint64       `json:"amount"`
	Note        []byte       `json:"note,omitempty"`
	Fee         uint64       `json:"fee"`
	FirstValid  uint64       `json:"firstValid"`
	LastValid   uint64       `json:"lastValid"`
	GenesisID   string       `json:"genesisId"`
	GenesisHash string       `json:"genesisHash"`
	Asset       *AssetParams `json:"assetParams,omitempty"`
}

func base(sender string, note []byte, sp SuggestedParams) Txn {
	fee := sp.Fee
	if fee < sp.MinFee {
		fee = sp.MinFee
	}
	return Txn{
		Sender:      sender,
		Note:        note,
		Fee:         fee,
		FirstValid:  sp.LastRound,
		LastValid:   sp.LastRound + validityWindow,
		GenesisID:   sp.GenesisID,
		GenesisHash: sp.GenesisHash,
	}
}

// NewThrowAssetTxn creates the single-unit asset that records a throw.
func NewThrowAssetTxn(sender string, m domain.ThrowMetadata, note []byte, sp SuggestedParams) (Txn, error) {
	if sender == "" {
		return Txn{}, domain.ErrNoSession
	}
	if len(note) > 1024 {
		return Txn{}, fmt.Errorf("%w: note is %d bytes, limit is 1024", domain.ErrValidation, len(note))
	}

	txn := base(sender, note, sp)
	txn.Type = TypeAssetConfig
	txn.Asset = &AssetParams{
		Total:     1,
		Decimals:  0,
		UnitName:  ThrowUnitName,
		AssetName: m.AssetName(),
		URL:       ThrowAssetURL,
		Manager:   sender,
		Reserve:   sender,
	}
	return txn, nil
}

// NewPaymentTxn builds a payment. A zero amount to self is how harvests are
// recorded.
func NewPaymentTxn(sender, receiver string, amount uint64, note []byte, sp SuggestedParams) (Txn, error) {
	if sender == "" {
		return Txn{}, domain.ErrNoSession
	}
	if len(note) > 1024 {
		return Txn{}, fmt.Errorf("%w: note is %d bytes, limit is 1024", domain.ErrValidation, len(note))
	}

	txn := base(sender, note, sp)
	txn.Type = TypePayment
	txn.Receiver = receiver
	txn.Amount = amount
	return txn, nil
}
