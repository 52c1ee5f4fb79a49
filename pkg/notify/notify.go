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

// Package notify issues "notify master" intents. Delivery is external; the
// core only shapes the intent, enforces the daily cap and hands it to the
// configured Notifier.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

// DefaultDailyCap bounds notifications per day process-wide.
const DefaultDailyCap = 200

// Priority of a notification intent.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Kind of a notification intent.
type Kind string

const (
	KindCriticalError Kind = "critical_error"
	KindHealReport    Kind = "heal_report"
	KindApprovalAsk   Kind = "approval_ask"
	KindFollowUp      Kind = "follow_up"
)

// Intent is one notification the core wants delivered to a master contact.
type Intent struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	UserID    string         `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Priority  Priority       `json:"priority"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers intents. Implementations live outside the core.
type Notifier interface {
	Notify(ctx context.Context, intent *Intent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, intent *Intent) error

func (f NotifierFunc) Notify(ctx context.Context, intent *Intent) error { return f(ctx, intent) }

// LogNotifier writes intents to the structured log. The default when no
// delivery backend is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, intent *Intent) error {
	slog.Info("Notification intent",
		"kind", intent.Kind,
		"priority", intent.Priority,
		"agent", intent.AgentID,
		"subject", intent.Subject)
	return nil
}

// Service enforces the daily cap in front of a Notifier.
type Service struct {
	notifier Notifier
	cap      int

	mu       sync.Mutex
	day      string
	sentToday int
	now      func() time.Time
}

// NewService wraps a notifier with the daily cap. A nil notifier falls back
// to LogNotifier.
func NewService(notifier Notifier, dailyCap int) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if dailyCap <= 0 {
		dailyCap = DefaultDailyCap
	}
	return &Service{notifier: notifier, cap: dailyCap, now: time.Now}
}

// Send delivers an intent, filling id and timestamp. Returns a
// policy_violation error once the daily cap is spent.
func (s *Service) Send(ctx context.Context, intent *Intent) error {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Priority == "" {
		intent.Priority = PriorityNormal
	}
	intent.CreatedAt = s.now().UTC()

	if err := s.reserve(); err != nil {
		return err
	}
	return s.notifier.Notify(ctx, intent)
}

// SentToday returns the count delivered in the current day.
func (s *Service) SentToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.day != s.now().UTC().Format("2006-01-02") {
		return 0
	}
	return s.sentToday
}

func (s *Service) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.now().UTC().Format("2006-01-02")
	if s.day != today {
		s.day = today
		s.sentToday = 0
	}
	if s.sentToday >= s.cap {
		return swarmerrors.New(swarmerrors.KindPolicyViolation, "notify", "send", "daily notification cap reached")
	}
	s.sentToday++
	return nil
}
