// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// BadgerPendingStore keeps the pending ledger in an embedded Badger
// database for single-node deployments without Redis.
//
// Claim relies on Badger's optimistic transactions: when two claims race,
// one commit fails with ErrConflict and is retried, at which point it sees
// the claimed status.
type BadgerPendingStore struct {
	db  *badger.DB
	ttl time.Duration
}

var _ PendingStore = (*BadgerPendingStore)(nil)

// OpenBadgerPendingStore opens (or creates) the database at dir. An empty
// dir opens an in-memory database.
func OpenBadgerPendingStore(dir string, ttl time.Duration) (*BadgerPendingStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &BadgerPendingStore{db: db, ttl: ttl}, nil
}

func (s *BadgerPendingStore) Close() error {
	return s.db.Close()
}

func badgerKey(conversationID, toolCallID string) []byte {
	return []byte("pending/" + pendingKey(conversationID, toolCallID))
}

func (s *BadgerPendingStore) write(txn *badger.Txn, action PendingAction) error {
	raw, err := json.Marshal(action)
	if err != nil {
		return err
	}
	remaining := s.ttl - time.Since(action.CreatedAt)
	if remaining <= 0 {
		remaining = time.Second
	}
	return txn.SetEntry(badger.NewEntry(badgerKey(action.ConversationID, action.ToolCall.ID), raw).WithTTL(remaining))
}

func read(txn *badger.Txn, key []byte) (PendingAction, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return PendingAction{}, ErrPendingActionNotFound
	}
	if err != nil {
		return PendingAction{}, err
	}
	var action PendingAction
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &action)
	})
	return action, err
}

func (s *BadgerPendingStore) Put(_ context.Context, action PendingAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	action.Status = PendingAwaiting
	if err := s.db.Update(func(txn *badger.Txn) error { return s.write(txn, action) }); err != nil {
		return fmt.Errorf("store pending action: %w", err)
	}
	return nil
}

func (s *BadgerPendingStore) Claim(ctx context.Context, conversationID, toolCallID string) (PendingAction, error) {
	const attempts = 3
	var action PendingAction
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return PendingAction{}, ctx.Err()
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			var rerr error
			action, rerr = read(txn, badgerKey(conversationID, toolCallID))
			if rerr != nil {
				return rerr
			}
			if action.Status != PendingAwaiting {
				return ErrAlreadyResolved
			}
			action.Status = PendingClaimed
			return s.write(txn, action)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	switch {
	case err == nil:
		return action, nil
	case errors.Is(err, ErrAlreadyResolved):
		return action, ErrAlreadyResolved
	case errors.Is(err, ErrPendingActionNotFound):
		return PendingAction{}, ErrPendingActionNotFound
	default:
		return PendingAction{}, fmt.Errorf("claim pending action: %w", err)
	}
}

func (s *BadgerPendingStore) Resolve(_ context.Context, conversationID, toolCallID string, result datatypes.ToolResult) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		action, err := read(txn, badgerKey(conversationID, toolCallID))
		if err != nil {
			return err
		}
		action.Status = PendingResolved
		action.Result = &result
		return s.write(txn, action)
	})
	if errors.Is(err, ErrPendingActionNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("resolve pending action: %w", err)
	}
	return nil
}
