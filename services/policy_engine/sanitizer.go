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
	"strings"
	"unicode"

	"github.com/AleutianAI/hearth/services/policy_engine/enforcement"
)

// emptyAfterSanitizeReason is returned when nothing is left to send.
const emptyAfterSanitizeReason = "Your message was empty after removing unsupported content."

// SanitizeResult is the outcome of sanitizing one chat message.
//
// When WasBlocked is true SanitizedText is empty and BlockReason is safe to
// show to the user.
type SanitizeResult struct {
	UserID        string    `json:"user_id,omitempty"`
	Original      string    `json:"-"`
	SanitizedText string    `json:"sanitized_text"`
	WasModified   bool      `json:"was_modified"`
	WasBlocked    bool      `json:"was_blocked"`
	BlockReason   string    `json:"block_reason,omitempty"`
	Detections    []Finding `json:"detections,omitempty"`
}

// InputSanitizer neutralizes unsafe markup and rejects prompt-injection
// attempts in user text.
//
// # Description
//
// Sanitize runs three deterministic steps:
//  1. Normalization: control and zero-width characters are removed and
//     surrounding whitespace is trimmed.
//  2. Block rules, highest priority first. Any match blocks the message.
//  3. Strip rules, highest priority first. Matches are deleted.
//
// Block rules run before stripping so that an injection phrase wrapped in
// tags is still caught.
//
// # Thread Safety
//
// Safe for concurrent use. Rules may be replaced with Reload at any time.
type InputSanitizer struct {
	engine *PolicyEngine
}

// NewInputSanitizer builds a sanitizer from the embedded input-safety rules.
func NewInputSanitizer() (*InputSanitizer, error) {
	engine, err := NewPolicyEngineFromYAML(enforcement.InputSafetyPatterns)
	if err != nil {
		return nil, err
	}
	return &InputSanitizer{engine: engine}, nil
}

// Reload replaces the active rules. The previous rules stay on error.
func (s *InputSanitizer) Reload(data []byte) error {
	return s.engine.Reload(data)
}

// Sanitize cleans rawText. It never fails; a blocked message is a normal
// outcome. Identical input always yields identical output.
func (s *InputSanitizer) Sanitize(rawText, userID string) SanitizeResult {
	result := SanitizeResult{UserID: userID, Original: rawText}

	text := normalize(rawText)
	classifiers := s.engine.Classifiers()

	for _, classifier := range classifiers {
		if classifier.Action != ActionBlock {
			continue
		}
		for _, pattern := range classifier.Patterns {
			loc := pattern.compiledPattern.FindStringIndex(text)
			if loc == nil {
				continue
			}
			result.WasBlocked = true
			result.BlockReason = strings.TrimSpace(classifier.Reason)
			result.Detections = append(result.Detections, Finding{
				ClassificationName: classifier.Name,
				PatternId:          pattern.Id,
				PatternDescription: pattern.Description,
				Confidence:         pattern.Confidence,
				Start:              loc[0],
				End:                loc[1],
			})
			return result
		}
	}

	for _, classifier := range classifiers {
		if classifier.Action != ActionStrip {
			continue
		}
		for _, pattern := range classifier.Patterns {
			if !pattern.compiledPattern.MatchString(text) {
				continue
			}
			result.Detections = append(result.Detections, Finding{
				ClassificationName: classifier.Name,
				PatternId:          pattern.Id,
				PatternDescription: pattern.Description,
				Confidence:         pattern.Confidence,
			})
			text = pattern.compiledPattern.ReplaceAllString(text, "")
		}
	}
	text = strings.TrimSpace(text)

	if text == "" {
		result.WasBlocked = true
		result.BlockReason = emptyAfterSanitizeReason
		return result
	}

	result.SanitizedText = text
	result.WasModified = text != rawText
	return result
}

// normalize drops control characters other than tab and newline, drops
// zero-width and bidi-override characters, and trims the result.
func normalize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return -1
		case unicode.IsControl(r):
			return -1
		case isInvisible(r):
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

func isInvisible(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2060 && r <= 0x2064:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}
