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

// PIIResult is the advisory outcome of a PII scan.
type PIIResult struct {
	HasPII         bool     `json:"has_pii"`
	WarningMessage string   `json:"warning_message,omitempty"`
	Categories     []string `json:"categories,omitempty"`
}

// PIIDetector flags messages that appear to contain sensitive personal data.
//
// # Description
//
// Detection is advisory: it never blocks and never modifies the message.
// Classifications marked redact_only (contact details) are ignored here;
// they only matter when redacting workspace context.
//
// # Thread Safety
//
// Safe for concurrent use.
type PIIDetector struct {
	engine *PolicyEngine
}

// NewPIIDetector wraps an engine loaded with the sensitive-data catalogue.
func NewPIIDetector(engine *PolicyEngine) *PIIDetector {
	return &PIIDetector{engine: engine}
}

// Detect scans text and returns the advisory for the highest-priority
// classification found. Empty input yields the zero result.
func (d *PIIDetector) Detect(text string) PIIResult {
	if d == nil || d.engine == nil || text == "" {
		return PIIResult{}
	}

	var result PIIResult
	seen := make(map[string]bool)
	for _, classifier := range d.engine.Classifiers() {
		if classifier.RedactOnly || !classifierMatches(classifier, text) {
			continue
		}
		if !seen[classifier.Name] {
			seen[classifier.Name] = true
			result.Categories = append(result.Categories, classifier.Name)
		}
		if !result.HasPII {
			result.HasPII = true
			result.WarningMessage = classifier.Advisory
		}
	}
	return result
}

func classifierMatches(classifier Classification, text string) bool {
	for _, pattern := range classifier.Patterns {
		for _, loc := range pattern.compiledPattern.FindAllStringIndex(text, -1) {
			if pattern.accepts(text[loc[0]:loc[1]]) {
				return true
			}
		}
	}
	return false
}
