/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mimir_news/internal/cache"
	"github.com/friendsincode/mimir_news/internal/catalog"
	"github.com/friendsincode/mimir_news/internal/db"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/metadata"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the catalog window once and print it",
	Long: `Rebuild the daily catalog window against the configured database.

Resolves metadata from S3 when a news bucket is configured, persists the
window, and prints the resulting playlist. Useful after changing the
catalog window size or to warm the metadata cache.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	ctx := cmd.Context()

	var resolver *metadata.Resolver
	if cfg.S3NewsBucket != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		metadataCache, err := cache.New(cacheCfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("cache unavailable, resolving without it")
			metadataCache = nil
		} else {
			defer func() { _ = metadataCache.Close() }()
		}

		s3Client, err := metadata.NewS3Client(ctx, metadata.ClientOptions{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("init S3 client: %w", err)
		}
		resolver = metadata.NewResolver(metadata.NewS3Source(s3Client, cfg.S3NewsBucket), metadataCache, logger)
	}

	loc, err := time.LoadLocation(cfg.CatalogTimezone)
	if err != nil {
		return fmt.Errorf("load catalog timezone %q: %w", cfg.CatalogTimezone, err)
	}

	prefix := cfg.S3PublicBaseURL
	if prefix == "" {
		prefix = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3NewsBucket, cfg.S3Region)
	}
	prefix = strings.TrimRight(prefix, "/")
	if path := strings.Trim(cfg.S3AudioPath, "/"); path != "" {
		prefix += "/" + path
	}

	svc := catalog.NewService(database, resolver, events.NewBus(), logger, catalog.Config{
		Days:         cfg.CatalogDays,
		Location:     loc,
		BoundaryHour: cfg.CatalogBoundary,
		PathPrefix:   prefix + "/",
	})

	if err := svc.Refresh(ctx, time.Now()); err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	items := svc.Playlist()
	fmt.Printf("catalog window rebuilt: %d items (head %s)\n", len(items), svc.HeadID())
	for _, item := range items {
		fmt.Printf("  %-30s %-9s %-8s %s\n", item.ID, string(item.Kind), item.DisplayDuration, item.Title)
	}
	return nil
}
