package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redhat-et/obo-delegation-demo/pkg/config"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/storage"
)

var (
	seedIfEmpty bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the storage with sample records",
	Long: `Seed the record storage backend with the demo users' secure records.

Typically run as an init container before the data service starts.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolVar(&seedIfEmpty, "if-empty", false, "Only seed if the bucket is empty")
}

func runSeed(cmd *cobra.Command, args []string) error {
	var cfg Config
	if err := config.Load(v, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.LoadStorageConfigFromEnv(&cfg.Storage)

	log := logger.New(logger.ComponentDataService)
	ctx := context.Background()

	if !cfg.Storage.Enabled {
		log.Info("Storage not enabled, nothing to seed")
		log.Info("Set OBO_DEMO_STORAGE_ENABLED=true to enable S3 storage")
		return nil
	}

	store, err := storage.NewS3Storage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 storage: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to S3 storage: %w", err)
	}

	if seedIfEmpty {
		isEmpty, err := store.IsEmpty(ctx)
		if err != nil {
			return fmt.Errorf("failed to check if storage is empty: %w", err)
		}
		if !isEmpty {
			log.Info("Storage is not empty, skipping seed (--if-empty flag)")
			return nil
		}
	}

	records := storage.SampleRecords()
	log.Section("SEEDING RECORDS")
	for _, record := range records {
		if err := store.PutRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to save record for %s: %w", record.Subject, err)
		}
		log.Info("Seeded record", "subject", record.Subject)
	}

	log.Info("Seeding complete", "records", len(records))
	return nil
}
