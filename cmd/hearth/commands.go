// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/hearth/pkg/config"
	"github.com/AleutianAI/hearth/pkg/logging"
	"github.com/AleutianAI/hearth/services/orchestrator"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.File
	logger     *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "hearth",
		Short:        "Conversational assistant service for shared households",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $HEARTH_CONFIG or ./hearth.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.seedCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging)
	a.logger.SetDefault()
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("starting hearth", "version", version, "commit", commit)
			svc, err := orchestrator.New(ctx, a.cfg.Service, nil)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDatabase(func(db *gorm.DB) error {
				if err := orchestrator.Migrate(cmd.Context(), db); err != nil {
					return err
				}
				slog.Info("schema is up to date", "driver", a.cfg.Service.Database.Driver)
				fmt.Fprintln(cmd.OutOrStdout(), "migrated")
				return nil
			})
		},
	}
}

func (a *app) seedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load spaces and members from a YAML file into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = a.cfg.Service.HouseholdSeed
			}
			if path == "" {
				return errors.New("no seed file: pass --file or set household_seed")
			}
			seed, err := household.LoadSeedFile(path)
			if err != nil {
				return err
			}
			return a.withDatabase(func(db *gorm.DB) error {
				if err := seed.ApplyToGorm(cmd.Context(), db); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d spaces\n", len(seed.Spaces))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "seed file (default household_seed)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hearth %s (%s)\n", version, commit)
		},
	}
}

// withDatabase opens the configured relational store for fn and closes it
// afterwards.
func (a *app) withDatabase(fn func(*gorm.DB) error) error {
	db, err := orchestrator.OpenDatabase(a.cfg.Service.Database)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("the in-memory store has no schema; set database.driver to postgres or sqlite")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return fn(db)
}
