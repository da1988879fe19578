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
	"strings"
	"sync/atomic"

	"github.com/AleutianAI/hearth/services/policy_engine/enforcement"
)

// PolicyEngine serves as the main entry point for sensitive-data
// classification. It holds the loaded rules and scans text against them.
//
// Rules can be swapped at runtime with Reload; scans in flight keep using
// the rule set they started with.
type PolicyEngine struct {
	classifiers atomic.Pointer[[]Classification]
}

// NewPolicyEngine initializes an engine from the embedded sensitive-data
// catalogue.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.DataClassificationPatterns)
}

// NewPolicyEngineFromYAML initializes an engine from an arbitrary catalogue.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	engine := &PolicyEngine{}
	if err := engine.Reload(data); err != nil {
		return nil, err
	}
	return engine, nil
}

// Reload replaces the active rule set. On error the previous rules stay.
func (e *PolicyEngine) Reload(data []byte) error {
	file, err := ParsePatternFile(data)
	if err != nil {
		return err
	}
	classifiers := file.ClassificationPatterns
	e.classifiers.Store(&classifiers)
	return nil
}

// Classifiers returns the active rule set, highest priority first.
func (e *PolicyEngine) Classifiers() []Classification {
	return *e.classifiers.Load()
}

// ClassifyData performs a quick check and returns the name of the first
// (highest priority) classification that matches, or "public".
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers() {
		for _, pattern := range classifier.Patterns {
			for _, loc := range pattern.compiledPattern.FindAllIndex(data, -1) {
				if pattern.accepts(string(data[loc[0]:loc[1]])) {
					return classifier.Name
				}
			}
		}
	}
	return "public"
}

// Scan returns every match in text, grouped by classification priority.
// Matches rejected by a pattern's validator are dropped.
func (e *PolicyEngine) Scan(text string) []Finding {
	var findings []Finding
	for _, classifier := range e.Classifiers() {
		for _, pattern := range classifier.Patterns {
			for _, loc := range pattern.compiledPattern.FindAllStringIndex(text, -1) {
				if !pattern.accepts(text[loc[0]:loc[1]]) {
					continue
				}
				findings = append(findings, Finding{
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
					Start:              loc[0],
					End:                loc[1],
				})
			}
		}
	}
	return findings
}

// Redact replaces every accepted match with a bracketed classification
// marker, e.g. "[payment_card]".
func (e *PolicyEngine) Redact(text string) string {
	if text == "" {
		return text
	}
	for _, classifier := range e.Classifiers() {
		marker := fmt.Sprintf("[%s]", classifier.Name)
		for _, pattern := range classifier.Patterns {
			text = pattern.compiledPattern.ReplaceAllStringFunc(text, func(match string) string {
				if pattern.accepts(match) {
					return marker
				}
				return match
			})
		}
	}
	return text
}

func (p Pattern) accepts(match string) bool {
	switch p.Validator {
	case ValidatorLuhn:
		return luhnValid(match)
	default:
		return true
	}
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
// Separators are ignored.
func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
