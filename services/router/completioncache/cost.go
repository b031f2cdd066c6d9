// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package completioncache

import "strings"

// costPer1KTokens is a blended (prompt plus completion) USD estimate per
// thousand tokens. These feed the savings accounting in stats; they are
// estimates, not billing data.
var costPer1KTokens = map[string]float64{
	"gpt-4o":                 0.0075,
	"gpt-4o-mini":            0.000375,
	"gpt-4.1":                0.005,
	"gpt-4.1-mini":           0.001,
	"text-embedding-3-small": 0.00002,
	"text-embedding-3-large": 0.00013,
	"text-embedding-ada-002": 0.0001,
}

const defaultCostPer1K = 0.002

// EstimateCost returns the estimated USD cost of a call.
//
// Unknown models fall back to a flat default. Model names are matched
// by longest known prefix so dated snapshots ("gpt-4o-2024-08-06")
// price like their base model.
func EstimateCost(model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	rate, ok := costPer1KTokens[model]
	if !ok {
		best := ""
		for name := range costPer1KTokens {
			if strings.HasPrefix(model, name) && len(name) > len(best) {
				best = name
			}
		}
		if best != "" {
			rate = costPer1KTokens[best]
		} else {
			rate = defaultCostPer1K
		}
	}
	return float64(tokens) / 1000.0 * rate
}
