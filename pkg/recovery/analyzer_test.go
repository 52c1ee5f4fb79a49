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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"ECONNRESET while calling provider", ErrNetwork},
		{"fetch failed: dns lookup error", ErrNetwork},
		{"request timed out after 30s", ErrTimeout},
		{"context deadline exceeded", ErrTimeout},
		{"429 Too Many Requests", ErrRateLimit},
		{"monthly quota exceeded", ErrRateLimit},
		// A rate-limited request that also timed out is a rate limit first.
		{"rate limit hit, request timed out", ErrRateLimit},
		{"contact not found", ErrNotFound},
		{"unknown tool searchWeb", ErrNotFound},
		{"403 Forbidden", ErrPermission},
		{"access denied for user", ErrPermission},
		{"invalid phone number format", ErrValidation},
		{"required parameter missing: to", ErrValidation},
		{"internal server error", ErrInternal},
		{"panic: nil pointer dereference", ErrInternal},
		{"something inexplicable happened", ErrUnknown},
		{"", ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestAnalyzeStrategies(t *testing.T) {
	withAlts := NewAnalyzer(func(string) []string { return []string{"sendEmail"} })
	noAlts := NewAnalyzer(nil)

	tests := []struct {
		name        string
		analyzer    *Analyzer
		err         string
		attempt     int
		wantType    ErrorType
		wantStrat   Strategy
		recoverable bool
	}{
		{"network retries with backoff", noAlts, "ECONNREFUSED", 1, ErrNetwork, StrategyRetryBackoff, true},
		{"rate limit waits", noAlts, "429", 1, ErrRateLimit, StrategyRetryDelay, true},
		{"validation adjusts params", noAlts, "invalid input", 1, ErrValidation, StrategyAdjustParams, true},
		{"not found prefers alternative", withAlts, "contact not found", 1, ErrNotFound, StrategyTryAlternative, true},
		{"not found without alternative adjusts", noAlts, "contact not found", 1, ErrNotFound, StrategyAdjustParams, true},
		{"permission escalates", noAlts, "403 forbidden", 1, ErrPermission, StrategyEscalate, false},
		{"spent retries fall to alternative", withAlts, "network error", 3, ErrNetwork, StrategyTryAlternative, true},
		{"spent retries without alternative fail gracefully", noAlts, "network error", 3, ErrNetwork, StrategyFailGraceful, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.analyzer.Analyze("sendWhatsApp", errors.New(tt.err), tt.attempt)
			assert.Equal(t, tt.wantType, a.Type)
			assert.Equal(t, tt.wantStrat, a.Strategy)
			assert.Equal(t, tt.recoverable, a.Recoverable)
		})
	}
}

func TestRetryDelayGrows(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 2*time.Second, cfg.Delay(2))
	assert.Equal(t, 4*time.Second, cfg.Delay(3))
}
