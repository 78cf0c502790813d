// Package indexer reads throws and harvests back from the ledger indexer.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/podledger/internal/provider"
	"github.com/kursadbilgin/podledger/internal/ratelimit"
)

const (
	serviceName     = "indexer"
	defaultPageSize = 100
	maxPages        = 50
)

type Asset struct {
	Index          uint64      `json:"index"`
	Deleted        bool        `json:"deleted"`
	CreatedAtRound uint64      `json:"created-at-round"`
	Params         AssetParams `json:"params"`
}

type AssetParams struct {
	Creator  string `json:"creator"`
	Name     string `json:"name"`
	UnitName string `json:"unit-name"`
	URL      string `json:"url"`
	Total    uint64 `json:"total"`
}

type Transaction struct {
	ID                string `json:"id"`
	Sender            string `json:"sender"`
	TxType            string `json:"tx-type"`
	ConfirmedRound    uint64 `json:"confirmed-round"`
	IntraRoundOffset  uint64 `json:"intra-round-offset"`
	RoundTime         int64  `json:"round-time"`
	Note              string `json:"note"`
	CreatedAssetIndex uint64 `json:"created-asset-index"`
}

type assetsPage struct {
	Assets    []Asset `json:"assets"`
	NextToken string  `json:"next-token"`
}

type transactionsPage struct {
	Transactions []Transaction `json:"transactions"`
	NextToken    string        `json:"next-token"`
}

// Client is a thin resty wrapper over the indexer v2 search endpoints.
type Client struct {
	http     *resty.Client
	limiter  ratelimit.RateLimiter
	pageSize int
}

func NewClient(baseURL string, limiter ratelimit.RateLimiter) (*Client, error) {
	return NewClientWithResty(baseURL, resty.New(), limiter)
}

func NewClientWithResty(baseURL string, client *resty.Client, limiter ratelimit.RateLimiter) (*Client, error) {
	c, err := provider.Configure(baseURL, client, provider.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure indexer client: %w", err)
	}
	return &Client{http: c, limiter: limiter, pageSize: defaultPageSize}, nil
}

func (c *Client) SearchAssetsByCreator(ctx context.Context, creator string) ([]Asset, error) {
	var out []Asset
	err := c.paginate(ctx, "/v2/assets", map[string]string{"creator": creator}, func(body []byte) (string, error) {
		var page assetsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", err
		}
		out = append(out, page.Assets...)
		if len(page.Assets) == 0 {
			return "", nil
		}
		return page.NextToken, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search assets for %s: %w", creator, err)
	}
	return out, nil
}

func (c *Client) SearchAssetConfigTxns(ctx context.Context, assetID uint64) ([]Transaction, error) {
	params := map[string]string{
		"asset-id": strconv.FormatUint(assetID, 10),
		"tx-type":  "acfg",
	}
	txns, err := c.searchTransactions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search config transactions for asset %d: %w", assetID, err)
	}
	return txns, nil
}

func (c *Client) SearchPaymentsBySender(ctx context.Context, sender string) ([]Transaction, error) {
	params := map[string]string{
		"address":      sender,
		"address-role": "sender",
		"tx-type":      "pay",
	}
	txns, err := c.searchTransactions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search payments for %s: %w", sender, err)
	}
	return txns, nil
}

func (c *Client) searchTransactions(ctx context.Context, params map[string]string) ([]Transaction, error) {
	var out []Transaction
	err := c.paginate(ctx, "/v2/transactions", params, func(body []byte) (string, error) {
		var page transactionsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", err
		}
		out = append(out, page.Transactions...)
		if len(page.Transactions) == 0 {
			return "", nil
		}
		return page.NextToken, nil
	})
	return out, err
}

// paginate follows next-token until the indexer stops returning one. collect
// decodes a page and returns its continuation token.
func (c *Client) paginate(
	ctx context.Context,
	path string,
	params map[string]string,
	collect func(body []byte) (string, error),
) error {
	next := ""
	for page := 0; page < maxPages; page++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, serviceName); err != nil {
				return fmt.Errorf("failed to wait for indexer budget: %w", err)
			}
		}

		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetQueryParam("limit", strconv.Itoa(c.pageSize))
		if next != "" {
			req.SetQueryParam("next", next)
		}

		resp, err := req.Get(path)
		if err := provider.Check(serviceName, resp, err); err != nil {
			return err
		}

		token, err := collect(resp.Body())
		if err != nil {
			return &provider.APIError{Service: serviceName, Message: "malformed response", Cause: err}
		}
		if token == "" || token == next {
			return nil
		}
		next = token
	}
	return &provider.APIError{Service: serviceName, Message: fmt.Sprintf("%s exceeded %d pages", path, maxPages)}
}
