// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/hearth/services/llm"
)

// Parameter types used in ToolParam.Type.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Params is a tool call's decoded JSON arguments.
type Params map[string]any

// String returns the trimmed string value of name, or "".
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return strings.TrimSpace(s)
}

// Int returns the integer value of name, or def when absent. JSON numbers
// decode as float64.
func (p Params) Int(name string, def int) int {
	switch v := p[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// Time parses name as RFC 3339, or as a date or "date time" in loc.
func (p Params) Time(name string, loc *time.Location) (*time.Time, error) {
	raw := p.String(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &t, nil
		}
	}
	return nil, Failf("%s %q is not a date I understand. Use YYYY-MM-DD or YYYY-MM-DDTHH:MM.", name, raw)
}

func (p Params) validate(spec llm.ToolSpec) error {
	for _, def := range spec.Parameters {
		v, present := p[def.Name]
		if !present || v == nil || v == "" {
			if def.Required {
				return fmt.Errorf("missing required parameter %q", def.Name)
			}
			continue
		}
		if err := checkType(def, v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(def llm.ToolParam, v any) error {
	switch def.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", def.Name)
		}
		if len(def.Enum) > 0 && !slices.Contains(def.Enum, strings.ToLower(strings.TrimSpace(s))) {
			return fmt.Errorf("parameter %q must be one of %s", def.Name, strings.Join(def.Enum, ", "))
		}
	case TypeInteger:
		switch n := v.(type) {
		case int, int64:
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("parameter %q must be a whole number", def.Name)
			}
		default:
			return fmt.Errorf("parameter %q must be a whole number", def.Name)
		}
	case TypeNumber:
		switch v.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("parameter %q must be a number", def.Name)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be true or false", def.Name)
		}
	}
	return nil
}
