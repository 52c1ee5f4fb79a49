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

// Package recovery makes tool calls resilient: the analyzer classifies
// failures and picks a strategy, the executor wraps tool execution with
// retry, parameter adjustment and alternative-tool fallback, consulting the
// idempotency cache for side-effect tools.
package recovery

import (
	"regexp"
	"time"
)

// ErrorType classifies a tool failure.
type ErrorType string

const (
	ErrNetwork    ErrorType = "NETWORK"
	ErrTimeout    ErrorType = "TIMEOUT"
	ErrRateLimit  ErrorType = "RATE_LIMIT"
	ErrNotFound   ErrorType = "NOT_FOUND"
	ErrPermission ErrorType = "PERMISSION"
	ErrValidation ErrorType = "VALIDATION"
	ErrInternal   ErrorType = "INTERNAL"
	ErrUnknown    ErrorType = "UNKNOWN"
)

// Strategy names the recovery approach the analyzer suggests.
type Strategy string

const (
	StrategyRetryBackoff   Strategy = "retry_backoff"
	StrategyRetryDelay     Strategy = "retry_delay"
	StrategyAdjustParams   Strategy = "adjust_params"
	StrategyTryAlternative Strategy = "try_alternative"
	StrategyEscalate       Strategy = "escalate"
	StrategyFailGraceful   Strategy = "fail_graceful"
	StrategyExhausted      Strategy = "exhausted"
	StrategyCached         Strategy = "cached"
)

// RetryConfig is the per-type retry schedule.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries"`
	BaseDelay         time.Duration `json:"base_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// Delay returns the sleep before the given retry attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
	}
	return d
}

// Analysis is the analyzer's verdict on one failure.
type Analysis struct {
	Type         ErrorType   `json:"type"`
	Recoverable  bool        `json:"recoverable"`
	Strategy     Strategy    `json:"strategy"`
	Alternatives []string    `json:"alternatives,omitempty"`
	Suggestion   string      `json:"suggestion,omitempty"`
	Retry        RetryConfig `json:"retry"`
}

// Ordered case-insensitive classification rules; the first match wins.
var classifyRules = []struct {
	re *regexp.Regexp
	t  ErrorType
}{
	{regexp.MustCompile(`(?i)rate.?limit|too many requests|\b429\b|quota exceeded`), ErrRateLimit},
	{regexp.MustCompile(`(?i)timed?.?out|etimedout|esockettimedout|deadline exceeded`), ErrTimeout},
	{regexp.MustCompile(`(?i)econnreset|econnrefused|enotfound|ehostunreach|epipe|socket hang up|network|fetch failed|dns`), ErrNetwork},
	{regexp.MustCompile(`(?i)not.?found|\b404\b|no such|does not exist|unknown (tool|id|agent)`), ErrNotFound},
	{regexp.MustCompile(`(?i)permission|forbidden|unauthorized|\b401\b|\b403\b|access denied`), ErrPermission},
	{regexp.MustCompile(`(?i)invalid|validation|malformed|bad request|\b400\b|required (field|parameter)|too long`), ErrValidation},
	{regexp.MustCompile(`(?i)internal (server )?error|\b5\d\d\b|panic|crash`), ErrInternal},
}

var retryConfigs = map[ErrorType]RetryConfig{
	ErrNetwork:   {MaxRetries: 2, BaseDelay: 1000 * time.Millisecond, BackoffMultiplier: 2},
	ErrRateLimit: {MaxRetries: 2, BaseDelay: 3000 * time.Millisecond, BackoffMultiplier: 3},
	ErrTimeout:   {MaxRetries: 1, BaseDelay: 2000 * time.Millisecond, BackoffMultiplier: 2},
	ErrInternal:  {MaxRetries: 1, BaseDelay: 1500 * time.Millisecond, BackoffMultiplier: 2},
	ErrUnknown:   {MaxRetries: 1, BaseDelay: 1000 * time.Millisecond, BackoffMultiplier: 2},
}

var suggestions = map[ErrorType]string{
	ErrNetwork:    "transient network failure, retrying with backoff",
	ErrTimeout:    "operation timed out, retrying once with delay",
	ErrRateLimit:  "provider rate limit hit, retrying after cooldown",
	ErrNotFound:   "target not found, adjusting parameters or trying an alternative",
	ErrPermission: "permission denied, escalating to operator",
	ErrValidation: "invalid parameters, attempting automatic adjustment",
	ErrInternal:   "upstream internal error, retrying once",
	ErrUnknown:    "unclassified error, retrying once",
}

// Analyzer classifies tool errors against the catalogue's alternatives.
type Analyzer struct {
	alternatives func(toolID string) []string
}

// NewAnalyzer creates an analyzer. alternatives may be nil.
func NewAnalyzer(alternatives func(toolID string) []string) *Analyzer {
	if alternatives == nil {
		alternatives = func(string) []string { return nil }
	}
	return &Analyzer{alternatives: alternatives}
}

// Classify maps an error message to its error type. The first matching
// rule wins; unmatched messages are UNKNOWN.
func Classify(msg string) ErrorType {
	for _, rule := range classifyRules {
		if rule.re.MatchString(msg) {
			return rule.t
		}
	}
	return ErrUnknown
}

// Analyze classifies err for toolID at the given attempt number.
func (a *Analyzer) Analyze(toolID string, err error, attempt int) Analysis {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	errType := Classify(msg)

	alts := a.alternatives(toolID)
	analysis := Analysis{
		Type:         errType,
		Alternatives: alts,
		Suggestion:   suggestions[errType],
		Retry:        retryConfigs[errType],
	}

	switch errType {
	case ErrNetwork, ErrTimeout, ErrInternal, ErrUnknown:
		analysis.Recoverable = true
		analysis.Strategy = StrategyRetryBackoff
	case ErrRateLimit:
		analysis.Recoverable = true
		analysis.Strategy = StrategyRetryDelay
	case ErrValidation:
		analysis.Recoverable = true
		analysis.Strategy = StrategyAdjustParams
	case ErrNotFound:
		if len(alts) > 0 {
			analysis.Recoverable = true
			analysis.Strategy = StrategyTryAlternative
		} else {
			analysis.Recoverable = true
			analysis.Strategy = StrategyAdjustParams
		}
	case ErrPermission:
		analysis.Recoverable = false
		analysis.Strategy = StrategyEscalate
	}

	// Retries already spent against this type's budget make further retry
	// pointless; prefer alternatives, then graceful failure.
	if attempt > analysis.Retry.MaxRetries && (analysis.Strategy == StrategyRetryBackoff || analysis.Strategy == StrategyRetryDelay) {
		if len(alts) > 0 {
			analysis.Strategy = StrategyTryAlternative
		} else {
			analysis.Strategy = StrategyFailGraceful
		}
	}

	return analysis
}
