// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package enforcement bakes the pattern catalogues into the binary so the
safety layer works without any files on the host. Operators can still point
the service at an override file, which replaces the embedded copy at runtime.
*/
package enforcement

import (
	_ "embed"
)

// DataClassificationPatterns holds the sensitive-data catalogue used by the
// PII detector and the workspace context redactor.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &targetStruct)
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte

// InputSafetyPatterns holds the block/strip rules applied by the input
// sanitizer.
//
//go:embed input_safety_patterns.yaml
var InputSafetyPatterns []byte
