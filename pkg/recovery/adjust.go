// Copyright 2025 NorthPeak Malaysia Sdn Bhd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recovery

import (
	"regexp"
	"strings"
)

const maxStringLen = 5000

var phoneFieldRe = regexp.MustCompile(`(?i)phone|msisdn|^to$|whatsapp`)
var phoneStripRe = regexp.MustCompile(`[\s\-()]`)

// AdjustParams derives adjusted parameters for a VALIDATION or NOT_FOUND
// failure. Returns nil when no adjustment applies.
//
// Adjustments: over-long queries shrink to their first 3 tokens, limit/topK
// are clamped (50/20), phone-like fields lose whitespace/dashes/parentheses,
// and any string over 5000 chars is truncated.
func AdjustParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}

	adjusted := make(map[string]any, len(params))
	changed := false

	for key, value := range params {
		adjusted[key] = value

		switch v := value.(type) {
		case string:
			next := v
			if key == "query" || key == "q" || key == "search" {
				tokens := strings.Fields(next)
				if len(tokens) > 3 {
					next = strings.Join(tokens[:3], " ")
				}
			}
			if phoneFieldRe.MatchString(key) {
				next = phoneStripRe.ReplaceAllString(next, "")
			}
			if len(next) > maxStringLen {
				next = next[:maxStringLen]
			}
			if next != v {
				adjusted[key] = next
				changed = true
			}
		case float64:
			if key == "limit" && v > 50 {
				adjusted[key] = float64(50)
				changed = true
			}
			if (key == "topK" || key == "top_k") && v > 20 {
				adjusted[key] = float64(20)
				changed = true
			}
		case int:
			if key == "limit" && v > 50 {
				adjusted[key] = 50
				changed = true
			}
			if (key == "topK" || key == "top_k") && v > 20 {
				adjusted[key] = 20
				changed = true
			}
		}
	}

	if !changed {
		return nil
	}
	return adjusted
}

// aliasParamMap remaps parameters when falling back from one tool to an
// alternative, e.g. sendWhatsApp -> sendEmail renames message to body.
var aliasParamMap = map[string]map[string]string{
	"sendEmail":    {"message": "body", "to": "to"},
	"sendWhatsApp": {"body": "message"},
	"sendTelegram": {"body": "message"},
}

// aliasDefaults fill parameters an alternative requires that the original
// call never carried.
var aliasDefaults = map[string]map[string]any{
	"sendEmail": {"subject": "Message from your agent"},
}

// RemapParams translates params for an alternative tool via the fixed alias
// table. Unmapped keys pass through unchanged.
func RemapParams(alternative string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	renames := aliasParamMap[alternative]
	for key, value := range params {
		if renamed, ok := renames[key]; ok {
			out[renamed] = value
			continue
		}
		out[key] = value
	}
	for key, value := range aliasDefaults[alternative] {
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
	return out
}
