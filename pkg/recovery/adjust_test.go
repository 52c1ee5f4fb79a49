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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustParams(t *testing.T) {
	t.Run("shrinks long queries", func(t *testing.T) {
		out := AdjustParams(map[string]any{"query": "one two three four five"})
		require.NotNil(t, out)
		assert.Equal(t, "one two three", out["query"])
	})

	t.Run("normalizes phone fields", func(t *testing.T) {
		out := AdjustParams(map[string]any{"phone": "+60 12-345 (6789)"})
		require.NotNil(t, out)
		assert.Equal(t, "+60123456789", out["phone"])
	})

	t.Run("truncates oversized strings", func(t *testing.T) {
		out := AdjustParams(map[string]any{"body": strings.Repeat("x", 6000)})
		require.NotNil(t, out)
		assert.Len(t, out["body"], 5000)
	})

	t.Run("clamps limit and topK", func(t *testing.T) {
		out := AdjustParams(map[string]any{"limit": 100, "topK": float64(50)})
		require.NotNil(t, out)
		assert.Equal(t, 50, out["limit"])
		assert.Equal(t, float64(20), out["topK"])
	})

	t.Run("returns nil when nothing changes", func(t *testing.T) {
		assert.Nil(t, AdjustParams(map[string]any{"query": "short one", "limit": 10}))
		assert.Nil(t, AdjustParams(nil))
	})
}

func TestRemapParams(t *testing.T) {
	t.Run("whatsapp to email", func(t *testing.T) {
		out := RemapParams("sendEmail", map[string]any{"message": "hello", "to": "+60123456789"})
		assert.Equal(t, "hello", out["body"])
		assert.Equal(t, "+60123456789", out["to"])
		assert.Equal(t, "Message from your agent", out["subject"])
		_, hasMessage := out["message"]
		assert.False(t, hasMessage)
	})

	t.Run("email to whatsapp", func(t *testing.T) {
		out := RemapParams("sendWhatsApp", map[string]any{"body": "hello"})
		assert.Equal(t, "hello", out["message"])
	})

	t.Run("explicit subject wins over default", func(t *testing.T) {
		out := RemapParams("sendEmail", map[string]any{"subject": "Update", "message": "hi"})
		assert.Equal(t, "Update", out["subject"])
	})

	t.Run("unknown alternative passes through", func(t *testing.T) {
		out := RemapParams("searchWeb", map[string]any{"q": "golang"})
		assert.Equal(t, map[string]any{"q": "golang"}, out)
	})
}
