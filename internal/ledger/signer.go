package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/provider"
)

const (
	DefaultConfirmationRounds uint64 = 4

	signerService = "signer"
	// Signing waits on a person approving in their wallet.
	signerTimeout = 2 * time.Minute
)

var ErrNotConfirmed = errors.New("transaction not confirmed")

// Signer produces signed transaction bytes for address, one per txn.
type Signer interface {
	Sign(ctx context.Context, txns []Txn, address string) ([][]byte, error)
}

var cancellationPhrases = []string{"cancel", "reject", "closed"}

// isCancellationMessage reports whether a wallet bridge error message means
// the user backed out of signing. Only bridge-reported messages are matched;
// transport errors never count as a cancellation.
func isCancellationMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range cancellationPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

type signRequest struct {
	Address      string `json:"address"`
	Transactions []Txn  `json:"transactions"`
}

type signResponse struct {
	Signed [][]byte `json:"signed"`
}

type signError struct {
	Error string `json:"error"`
}

// HTTPSigner forwards signing requests to a wallet bridge.
type HTTPSigner struct {
	http *resty.Client
}

func NewHTTPSigner(baseURL string) (*HTTPSigner, error) {
	return NewHTTPSignerWithResty(baseURL, resty.New())
}

func NewHTTPSignerWithResty(baseURL string, client *resty.Client) (*HTTPSigner, error) {
	c, err := provider.Configure(baseURL, client, signerTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure signer client: %w", err)
	}
	return &HTTPSigner{http: c}, nil
}

func (s *HTTPSigner) Sign(ctx context.Context, txns []Txn, address string) ([][]byte, error) {
	if address == "" {
		return nil, domain.ErrNoSession
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("%w: nothing to sign", domain.ErrValidation)
	}

	var out signResponse
	var failure signError
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(signRequest{Address: address, Transactions: txns}).
		SetResult(&out).
		SetError(&failure).
		Post("/v1/sign")
	if err := provider.Check(signerService, resp, err); err != nil {
		if failure.Error != "" && isCancellationMessage(failure.Error) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSigningCancelled, failure.Error)
		}
		return nil, err
	}

	if len(out.Signed) != len(txns) {
		return nil, &provider.APIError{
			Service: signerService,
			Message: fmt.Sprintf("signed %d of %d transactions", len(out.Signed), len(txns)),
		}
	}
	return out.Signed, nil
}
