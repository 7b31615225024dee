/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mimir_news/internal/db"
	"github.com/friendsincode/mimir_news/internal/models"
)

var (
	resetForce           bool
	resetKeepSubscribers bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database to a fresh state",
	Long: `Reset Mimir News to a fresh state.

Drops the catalog, companion, and play history tables and re-creates them
empty. Subscribers are dropped too unless --keep-subscribers is given.

WARNING: This action is irreversible.

Examples:
  # Interactive reset (will prompt for confirmation)
  mimirnews reset

  # Force reset without confirmation
  mimirnews reset --force

  # Reset the catalog but keep subscriber accounts
  mimirnews reset --force --keep-subscribers
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetKeepSubscribers, "keep-subscribers", false, "Preserve subscriber accounts")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Println("This will DELETE the catalog, companions, and play history.")
		if !resetKeepSubscribers {
			fmt.Println("Subscriber accounts will be deleted as well.")
		}
		fmt.Print("Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	tables := []any{
		&models.CatalogItem{},
		&models.CompanionAudio{},
		&models.PlayHistory{},
	}
	if !resetKeepSubscribers {
		tables = append(tables, &models.Subscriber{})
	}

	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("re-create tables: %w", err)
	}

	logger.Info().Bool("kept_subscribers", resetKeepSubscribers).Msg("database reset complete")
	return nil
}
