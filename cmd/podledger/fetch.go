package main

import (
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/indexer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fetchIndexerURL  string
	fetchExplorerURL string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <address>",
	Short: "Read the confirmed throws and harvests of an address from the indexer",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchIndexerURL, "indexer", "https://testnet-idx.algonode.cloud", "Indexer base URL")
	fetchCmd.Flags().StringVar(&fetchExplorerURL, "explorer", "https://testnet.explorer.perawallet.app", "Explorer base URL")
}

func runFetch(cmd *cobra.Command, args []string) error {
	client, err := indexer.NewClient(fetchIndexerURL, nil)
	if err != nil {
		return err
	}
	fetcher, err := indexer.NewFetcher(client, fetchExplorerURL, zap.NewNop())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	throws, err := fetcher.FetchThrows(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch throws: %w", err)
	}
	harvests, err := fetcher.FetchHarvests(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch harvests: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Address  string           `json:"address"`
		Throws   []domain.Throw   `json:"throws"`
		Harvests []domain.Harvest `json:"harvests"`
	}{Address: args[0], Throws: throws, Harvests: harvests})
}
