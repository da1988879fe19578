// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Action is what the sanitizer does with text matching a classification.
type Action string

const (
	ActionNone  Action = ""
	ActionBlock Action = "block"
	ActionStrip Action = "strip"
)

// ValidatorLuhn rejects digit sequences that fail the Luhn checksum.
const ValidatorLuhn = "luhn"

type PatternFile struct {
	ClassificationPatterns []Classification `yaml:"classifications"`
}

type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Action      Action    `yaml:"action"`
	Reason      string    `yaml:"reason"`
	Advisory    string    `yaml:"advisory"`
	RedactOnly  bool      `yaml:"redact_only"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	Validator       string          `yaml:"validator"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Action(s)
	switch incoming {
	case ActionNone, ActionBlock, ActionStrip:
		*a = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Action: %q", incoming)
	}
}

// ParsePatternFile unmarshals, validates, compiles and sorts a catalogue.
func ParsePatternFile(data []byte) (*PatternFile, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if len(file.ClassificationPatterns) == 0 {
		return nil, fmt.Errorf("policy file has no classifications")
	}
	if err := file.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	file.SortByPriority()
	return &file, nil
}

func (p *PatternFile) CompileRegexes() error {
	for i := range p.ClassificationPatterns {
		c := &p.ClassificationPatterns[i]
		if c.Action == ActionBlock && c.Reason == "" {
			return fmt.Errorf("classification %s blocks but has no reason", c.Name)
		}
		for j := range c.Patterns {
			pattern := &c.Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			if pattern.Validator != "" && pattern.Validator != ValidatorLuhn {
				return fmt.Errorf("pattern %s: unknown validator %q", pattern.Id, pattern.Validator)
			}
			pattern.compiledPattern = re
		}
	}
	return nil
}

// SortByPriority orders classifications from highest to lowest priority.
// The sort is stable so equal priorities keep file order.
func (p *PatternFile) SortByPriority() {
	sort.SliceStable(p.ClassificationPatterns, func(i, j int) bool {
		return p.ClassificationPatterns[i].Priority > p.ClassificationPatterns[j].Priority
	})
}

// Finding is one pattern match inside scanned text.
type Finding struct {
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
	Start              int             `json:"start"`
	End                int             `json:"end"`
}
