package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/podledger/internal/provider"
)

const algodService = "algod"

// PendingTxn is algod's view of a submitted transaction.
type PendingTxn struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
	PoolError      string `json:"pool-error"`
	AssetIndex     uint64 `json:"asset-index"`
}

type nodeStatus struct {
	LastRound uint64 `json:"last-round"`
}

type AlgodClient struct {
	http *resty.Client
}

func NewAlgodClient(baseURL, token string) (*AlgodClient, error) {
	return NewAlgodClientWithResty(baseURL, token, resty.New())
}

func NewAlgodClientWithResty(baseURL, token string, client *resty.Client) (*AlgodClient, error) {
	c, err := provider.Configure(baseURL, client, provider.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure algod client: %w", err)
	}
	if token != "" {
		c.SetHeader("X-Algo-API-Token", token)
	}
	return &AlgodClient{http: c}, nil
}

func (a *AlgodClient) SuggestedParams(ctx context.Context) (SuggestedParams, error) {
	var sp SuggestedParams
	resp, err := a.http.R().SetContext(ctx).SetResult(&sp).Get("/v2/transactions/params")
	if err := provider.Check(algodService, resp, err); err != nil {
		return SuggestedParams{}, fmt.Errorf("failed to get suggested params: %w", err)
	}
	return sp, nil
}

// SendRaw submits signed transaction bytes and returns the transaction id.
func (a *AlgodClient) SendRaw(ctx context.Context, signed []byte) (string, error) {
	var out struct {
		TxID string `json:"txId"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-binary").
		SetBody(signed).
		SetResult(&out).
		Post("/v2/transactions")
	if err := provider.Check(algodService, resp, err); err != nil {
		return "", fmt.Errorf("failed to submit transaction: %w", err)
	}
	if out.TxID == "" {
		return "", &provider.APIError{Service: algodService, Message: "submission returned no txId"}
	}
	return out.TxID, nil
}

func (a *AlgodClient) PendingInfo(ctx context.Context, txID string) (PendingTxn, error) {
	var p PendingTxn
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&p).
		Get("/v2/transactions/pending/" + url.PathEscape(txID))
	if err := provider.Check(algodService, resp, err); err != nil {
		return PendingTxn{}, fmt.Errorf("failed to get pending transaction %s: %w", txID, err)
	}
	return p, nil
}

func (a *AlgodClient) Status(ctx context.Context) (uint64, error) {
	var st nodeStatus
	resp, err := a.http.R().SetContext(ctx).SetResult(&st).Get("/v2/status")
	if err := provider.Check(algodService, resp, err); err != nil {
		return 0, fmt.Errorf("failed to get node status: %w", err)
	}
	return st.LastRound, nil
}

// StatusAfterBlock blocks on the node until a round after round is reached.
func (a *AlgodClient) StatusAfterBlock(ctx context.Context, round uint64) (uint64, error) {
	var st nodeStatus
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&st).
		Get("/v2/status/wait-for-block-after/" + strconv.FormatUint(round, 10))
	if err := provider.Check(algodService, resp, err); err != nil {
		return 0, fmt.Errorf("failed to wait for round %d: %w", round, err)
	}
	return st.LastRound, nil
}

// WaitForConfirmation polls the pending pool for up to rounds rounds.
func (a *AlgodClient) WaitForConfirmation(ctx context.Context, txID string, rounds uint64) (PendingTxn, error) {
	if rounds == 0 {
		rounds = DefaultConfirmationRounds
	}

	start, err := a.Status(ctx)
	if err != nil {
		return PendingTxn{}, err
	}

	current := start + 1
	for current < start+rounds+1 {
		p, err := a.PendingInfo(ctx, txID)
		if err != nil {
			return PendingTxn{}, err
		}
		if p.ConfirmedRound > 0 {
			return p, nil
		}
		if p.PoolError != "" {
			return PendingTxn{}, fmt.Errorf("transaction %s rejected: %s", txID, p.PoolError)
		}

		if _, err := a.StatusAfterBlock(ctx, current); err != nil {
			return PendingTxn{}, err
		}
		current++
	}
	return PendingTxn{}, fmt.Errorf("%w: %s after %d rounds", ErrNotConfirmed, txID, rounds)
}
