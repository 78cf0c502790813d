package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/podledger/internal/observability"
	"github.com/kursadbilgin/podledger/internal/queue"
	"github.com/spf13/cobra"
)

var watchRabbitMQURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print stage-due notifications as they are published",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRabbitMQURL, "rabbitmq-url", os.Getenv("RABBITMQ_URL"), "RabbitMQ URL")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if watchRabbitMQURL == "" {
		return fmt.Errorf("--rabbitmq-url or RABBITMQ_URL is required")
	}

	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mq, err := queue.NewRabbitMQ(watchRabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	consumer := queue.NewRabbitMQConsumer(mq, 10, logger.Named("watch"))
	return consumer.Consume(ctx, queue.StageDueQueue, func(_ context.Context, msg queue.StageDueMessage) error {
		return enc.Encode(msg)
	})
}
