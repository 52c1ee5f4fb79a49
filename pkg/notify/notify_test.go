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

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

func TestSendFillsIntent(t *testing.T) {
	var delivered *Intent
	svc := NewService(NotifierFunc(func(_ context.Context, intent *Intent) error {
		delivered = intent
		return nil
	}), 10)

	err := svc.Send(context.Background(), &Intent{
		AgentID: "a1",
		Kind:    KindHealReport,
		Subject: "healed",
	})
	require.NoError(t, err)
	require.NotNil(t, delivered)
	assert.NotEmpty(t, delivered.ID)
	assert.Equal(t, PriorityNormal, delivered.Priority)
	assert.False(t, delivered.CreatedAt.IsZero())
}

func TestDailyCap(t *testing.T) {
	svc := NewService(NotifierFunc(func(context.Context, *Intent) error { return nil }), 2)

	require.NoError(t, svc.Send(context.Background(), &Intent{Kind: KindFollowUp}))
	require.NoError(t, svc.Send(context.Background(), &Intent{Kind: KindFollowUp}))
	assert.Equal(t, 2, svc.SentToday())

	err := svc.Send(context.Background(), &Intent{Kind: KindFollowUp})
	require.Error(t, err)
	assert.True(t, swarmerrors.IsKind(err, swarmerrors.KindPolicyViolation))
}

func TestCapResetsAtMidnight(t *testing.T) {
	svc := NewService(NotifierFunc(func(context.Context, *Intent) error { return nil }), 1)

	day1 := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	require.NoError(t, svc.Send(context.Background(), &Intent{Kind: KindCriticalError}))
	require.Error(t, svc.Send(context.Background(), &Intent{Kind: KindCriticalError}))

	svc.now = func() time.Time { return day1.Add(20 * time.Minute) }
	assert.Equal(t, 0, svc.SentToday())
	require.NoError(t, svc.Send(context.Background(), &Intent{Kind: KindCriticalError}))
}

func TestDefaults(t *testing.T) {
	svc := NewService(nil, 0)
	// nil notifier falls back to the log notifier, zero cap to the default.
	require.NoError(t, svc.Send(context.Background(), &Intent{Kind: KindApprovalAsk}))
	assert.Equal(t, DefaultDailyCap, svc.cap)
}
