// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package household

import (
	"context"
	"fmt"
	"os"

	"github.com/AleutianAI/hearth/services/orchestrator/datatypes"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Seed is a YAML description of spaces and their members, used to
// bootstrap a deployment or a local run without the main application.
//
//	spaces:
//	  - id: sp1
//	    name: Maple House
//	    timezone: Europe/London
//	    tier: plus
//	    members:
//	      - id: u1
//	        display_name: Alex
//	        role: owner
type Seed struct {
	Spaces []SeedSpace `yaml:"spaces"`
}

type SeedSpace struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	Timezone string       `yaml:"timezone"`
	Tier     string       `yaml:"tier"`
	Members  []SeedMember `yaml:"members"`
}

type SeedMember struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
	Email       string `yaml:"email"`
	Phone       string `yaml:"phone"`
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	seen := make(map[string]bool, len(seed.Spaces))
	for i, sp := range seed.Spaces {
		if sp.ID == "" || sp.Name == "" {
			return nil, fmt.Errorf("seed space %d: id and name are required", i)
		}
		if seen[sp.ID] {
			return nil, fmt.Errorf("seed space %q is declared twice", sp.ID)
		}
		seen[sp.ID] = true
		switch datatypes.Tier(sp.Tier) {
		case "", datatypes.TierFree, datatypes.TierPlus, datatypes.TierFamily:
		default:
			return nil, fmt.Errorf("seed space %q: unknown tier %q", sp.ID, sp.Tier)
		}
		for j, m := range sp.Members {
			if m.ID == "" || m.DisplayName == "" {
				return nil, fmt.Errorf("seed space %q member %d: id and display_name are required", sp.ID, j)
			}
		}
	}
	return &seed, nil
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

func (sp SeedSpace) space() Space {
	return Space{ID: sp.ID, Name: sp.Name, Timezone: sp.Timezone, Tier: datatypes.Tier(sp.Tier)}
}

func (m SeedMember) member() datatypes.Member {
	role := m.Role
	if role == "" {
		role = "member"
	}
	return datatypes.Member{ID: m.ID, DisplayName: m.DisplayName, Role: role, Email: m.Email, Phone: m.Phone}
}

// ApplyTo loads every space into a MemoryStore.
func (s *Seed) ApplyTo(store *MemoryStore) {
	for _, sp := range s.Spaces {
		members := make([]datatypes.Member, 0, len(sp.Members))
		for _, m := range sp.Members {
			members = append(members, m.member())
		}
		store.PutSpace(sp.space(), members...)
	}
}

// ApplyToGorm upserts every space and member in one transaction, so
// re-running a seed updates names and roles in place.
func (s *Seed) ApplyToGorm(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sp := range s.Spaces {
			model := SpaceModel{ID: sp.ID, Name: sp.Name, Timezone: sp.Timezone, Tier: sp.Tier}
			if model.Timezone == "" {
				model.Timezone = "UTC"
			}
			if model.Tier == "" {
				model.Tier = string(datatypes.TierFree)
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "timezone", "tier"}),
			}).Create(&model).Error; err != nil {
				return fmt.Errorf("seed space %s: %w", sp.ID, err)
			}
			for _, m := range sp.Members {
				d := m.member()
				row := MemberModel{SpaceID: sp.ID, UserID: d.ID, DisplayName: d.DisplayName, Role: d.Role, Email: d.Email, Phone: d.Phone}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "space_id"}, {Name: "user_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "email", "phone"}),
				}).Create(&row).Error; err != nil {
					return fmt.Errorf("seed member %s/%s: %w", sp.ID, m.ID, err)
				}
			}
		}
		return nil
	})
}
