// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/access"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/household"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stores is the persistence the service runs on, chosen from config.
type stores struct {
	db            *gorm.DB
	rdb           *redis.Client
	household     household.Store
	conversations conversation.Store
	usage         conversation.UsageStore
	pending       conversation.PendingStore
	limiter       access.RateLimiter
	closers       []func() error
}

// OpenDatabase opens the relational store for driver "postgres" or
// "sqlite". Driver "memory" returns nil.
func OpenDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return nil, nil
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database driver %s requires a dsn", cfg.Driver)
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if strings.EqualFold(cfg.Driver, "sqlite") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(ctx context.Context, db *gorm.DB) error {
	models := append(household.Models(), conversation.Models()...)
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func openStores(ctx context.Context, cfg Config) (*stores, error) {
	st := &stores{}
	ok := false
	defer func() {
		if !ok {
			st.close()
		}
	}()

	db, err := OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		st.db = db
		st.closers = append(st.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		if cfg.Database.AutoMigrate {
			if err := Migrate(ctx, db); err != nil {
				return nil, err
			}
		}
		convs := conversation.NewGormStore(db)
		st.household = household.NewGormStore(db)
		st.conversations = convs
		st.usage = convs
	} else {
		hh := household.NewMemoryStore()
		convs := conversation.NewMemoryStore()
		st.household = hh
		st.conversations = convs
		st.usage = convs
		slog.Warn("using in-memory stores; data is lost on restart")
	}

	if cfg.HouseholdSeed != "" {
		seed, err := household.LoadSeedFile(cfg.HouseholdSeed)
		if err != nil {
			return nil, err
		}
		if hh, isMemory := st.household.(*household.MemoryStore); isMemory {
			seed.ApplyTo(hh)
		} else if err := seed.ApplyToGorm(ctx, db); err != nil {
			return nil, err
		}
		slog.Info("household seed applied", "spaces", len(seed.Spaces))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st.closers = append(st.closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		st.rdb = rdb
		st.usage = conversation.NewRedisUsageStore(rdb)
		st.limiter = access.NewRedisRateLimiter(rdb)
	} else {
		st.limiter = access.NewMemoryRateLimiter()
	}

	switch strings.ToLower(cfg.Pending.Backend) {
	case "", "memory":
		st.pending = conversation.NewMemoryPendingStore(cfg.Pending.TTL)
	case "redis":
		if st.rdb == nil {
			return nil, fmt.Errorf("pending backend redis requires redis.addr")
		}
		st.pending = conversation.NewRedisPendingStore(st.rdb, cfg.Pending.TTL)
	case "badger":
		bs, err := conversation.OpenBadgerPendingStore(cfg.Pending.BadgerDir, cfg.Pending.TTL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, bs.Close)
		st.pending = bs
	default:
		return nil, fmt.Errorf("unknown pending backend %q", cfg.Pending.Backend)
	}

	slog.Info("stores ready",
		"database", cfg.Database.Driver,
		"redis", st.rdb != nil,
		"pending", cfg.Pending.Backend)
	ok = true
	return st, nil
}

// close releases connections in reverse order of opening.
func (st *stores) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil {
			slog.Warn("store close error", "error", err)
		}
	}
	st.closers = nil
}
