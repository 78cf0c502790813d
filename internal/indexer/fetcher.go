package indexer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
	"go.uber.org/zap"
)

const DefaultExplorerURL = "https://testnet.explorer.perawallet.app"

// Searcher is the subset of the indexer the fetcher needs.
type Searcher interface {
	SearchAssetsByCreator(ctx context.Context, creator string) ([]Asset, error)
	SearchAssetConfigTxns(ctx context.Context, assetID uint64) ([]Transaction, error)
	SearchPaymentsBySender(ctx context.Context, sender string) ([]Transaction, error)
}

// Fetcher turns indexer search results into throws and harvests. It has no
// state of its own and every call is a fresh read.
type Fetcher struct {
	search      Searcher
	explorerURL string
	logger      *zap.Logger
}

func NewFetcher(search Searcher, explorerURL string, logger *zap.Logger) (*Fetcher, error) {
	if search == nil {
		return nil, fmt.Errorf("indexer searcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	explorerURL = strings.TrimRight(strings.TrimSpace(explorerURL), "/")
	if explorerURL == "" {
		explorerURL = DefaultExplorerURL
	}
	return &Fetcher{search: search, explorerURL: explorerURL, logger: logger}, nil
}

// ExplorerAssetURL links an asset on the block explorer.
func (f *Fetcher) ExplorerAssetURL(assetID uint64) string {
	return fmt.Sprintf("%s/asset/%d", f.explorerURL, assetID)
}

// FetchThrows returns one throw per asset created by address, newest throw
// first. Any indexer failure aborts the whole fetch so callers never mistake
// a partial read for the full set.
func (f *Fetcher) FetchThrows(ctx context.Context, address string) ([]domain.Throw, error) {
	assets, err := f.search.SearchAssetsByCreator(ctx, address)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]struct{}, len(assets))
	throws := make([]domain.Throw, 0, len(assets))
	for _, asset := range assets {
		if asset.Index == 0 || asset.Deleted {
			continue
		}
		if _, dup := seen[asset.Index]; dup {
			continue
		}
		seen[asset.Index] = struct{}{}

		txns, err := f.search.SearchAssetConfigTxns(ctx, asset.Index)
		if err != nil {
			return nil, err
		}

		txn, props, ok := creationNote(txns)
		if !ok {
			f.logger.Debug("asset has no throw note", zap.Uint64("asset_id", asset.Index))
			continue
		}
		throws = append(throws, f.toThrow(address, asset.Index, txn, props))
	}

	sort.SliceStable(throws, func(i, j int) bool {
		if !throws[i].ThrowDate.Equal(throws[j].ThrowDate) {
			return throws[i].ThrowDate.After(throws[j].ThrowDate)
		}
		return throws[i].AssetID > throws[j].AssetID
	})
	return throws, nil
}

// creationNote picks the earliest submitted config transaction that carries a
// decodable throw note.
func creationNote(txns []Transaction) (Transaction, Properties, bool) {
	var (
		best      Transaction
		bestProps Properties
		found     bool
	)
	for _, txn := range txns {
		props, ok := DecodeNote(txn.Note)
		if !ok || props.Type != TypeThrow {
			continue
		}
		if !found || earlier(txn, best) {
			best, bestProps, found = txn, props, true
		}
	}
	return best, bestProps, found
}

func earlier(a, b Transaction) bool {
	if a.ConfirmedRound != b.ConfirmedRound {
		return a.ConfirmedRound < b.ConfirmedRound
	}
	return a.IntraRoundOffset < b.IntraRoundOffset
}

func (f *Fetcher) toThrow(address string, assetID uint64, txn Transaction, p Properties) domain.Throw {
	roundTime := time.Unix(txn.RoundTime, 0).UTC()

	t := domain.Throw{
		LocalID:       domain.ChainLocalID(assetID),
		AssetID:       assetID,
		TxID:          txn.ID,
		ThrowDate:     parseTime(p.ThrowDate, roundTime),
		ConfirmedAt:   roundTime,
		PodTypeID:     p.PodTypeID,
		PodTypeName:   p.PodTypeName,
		PodTypeIcon:   p.PodTypeIcon,
		LocationLabel: p.LocationLabel,
		GrowthModelID: p.GrowthModelID,
		ThrownBy:      p.ThrownBy,
		ExplorerURL:   f.ExplorerAssetURL(assetID),
	}
	if t.PodTypeIcon == "" {
		t.PodTypeIcon = defaultPodIcon
	}
	if t.GrowthModelID == "" {
		t.GrowthModelID = domain.DefaultGrowthModelID
	}
	if t.ThrownBy == "" {
		t.ThrownBy = address
	}
	return t
}

// FetchHarvests returns the harvests address recorded on chain, newest first.
func (f *Fetcher) FetchHarvests(ctx context.Context, address string) ([]domain.Harvest, error) {
	txns, err := f.search.SearchPaymentsBySender(ctx, address)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(txns))
	harvests := make([]domain.Harvest, 0)
	for _, txn := range txns {
		props, ok := DecodeNote(txn.Note)
		if !ok || props.Type != TypeHarvest {
			continue
		}
		if _, dup := seen[txn.ID]; dup {
			continue
		}
		seen[txn.ID] = struct{}{}

		qc := domain.QuantitySmall
		if props.QuantityClass != "" {
			parsed, err := domain.ParseQuantityClass(props.QuantityClass)
			if err != nil {
				continue
			}
			qc = parsed
		}

		roundTime := time.Unix(txn.RoundTime, 0).UTC()
		harvests = append(harvests, domain.Harvest{
			TxID:          txn.ID,
			ThrowAssetID:  props.ThrowAssetID,
			PlantID:       props.PlantID,
			QuantityClass: qc,
			HarvestedAt:   parseTime(props.HarvestedAt, roundTime),
			Notes:         props.Notes,
			ConfirmedAt:   roundTime,
		})
	}

	sort.SliceStable(harvests, func(i, j int) bool {
		return harvests[i].HarvestedAt.After(harvests[j].HarvestedAt)
	})
	return harvests, nil
}
