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
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"github.com/go-redis/redis/v8"
)

// usageKeyTTL keeps a day's counters around long enough for late reads
// across the UTC midnight boundary.
const usageKeyTTL = 48 * time.Hour

// RedisUsageStore keeps daily counters in a Redis hash per
// (user, space, day), updated with HINCRBY.
type RedisUsageStore struct {
	rdb    *redis.Client
	prefix string
}

var _ UsageStore = (*RedisUsageStore)(nil)

func NewRedisUsageStore(rdb *redis.Client) *RedisUsageStore {
	return &RedisUsageStore{rdb: rdb, prefix: "hearth:usage"}
}

func (s *RedisUsageStore) key(userID, spaceID, day string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, userID, spaceID, day)
}

func (s *RedisUsageStore) RecordUsage(ctx context.Context, delta datatypes.UsageDelta) error {
	at := delta.At
	if at.IsZero() {
		at = time.Now()
	}
	key := s.key(delta.UserID, delta.SpaceID, datatypes.UsageDay(at))
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr := map[string]int64{
			"input_tokens":  delta.InputTokens,
			"output_tokens": delta.OutputTokens,
			"conversations": delta.Conversations,
			"messages":      delta.Messages,
			"tool_calls":    delta.ToolCalls,
			"voice_seconds": delta.VoiceSeconds,
		}
		for field, n := range incr {
			if n != 0 {
				pipe.HIncrBy(ctx, key, field, n)
			}
		}
		if delta.Source != "" {
			pipe.HSet(ctx, key, "source", delta.Source)
		}
		pipe.Expire(ctx, key, usageKeyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (s *RedisUsageStore) GetUsage(ctx context.Context, userID, spaceID, day string) (datatypes.UsageRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(userID, spaceID, day)).Result()
	if err != nil {
		return datatypes.UsageRecord{}, fmt.Errorf("failed to get usage: %w", err)
	}
	rec := datatypes.UsageRecord{UserID: userID, SpaceID: spaceID, Day: day}
	parse := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	rec.InputTokens = parse("input_tokens")
	rec.OutputTokens = parse("output_tokens")
	rec.Conversations = parse("conversations")
	rec.Messages = parse("messages")
	rec.ToolCalls = parse("tool_calls")
	rec.VoiceSeconds = parse("voice_seconds")
	rec.Source = fields["source"]
	return rec, nil
}
