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

package builtin

import (
	"context"

	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

type echoParams struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

// RegisterEcho adds the echo tool, a side-effect-free observation tool
// used in smoke tests and as a catalogue sanity check.
func RegisterEcho(catalogue *tool.Catalogue) error {
	return catalogue.Register(tool.Entry{
		ID:          "echo",
		Description: "Echo the given text back",
		Category:    tool.CategoryObservation,
		Schema:      tool.SchemaFor[echoParams](),
		Handler: tool.HandlerFunc(func(_ context.Context, params map[string]any) (tool.Result, error) {
			text, _ := params["text"].(string)
			return tool.Result{Success: true, Content: text}, nil
		}),
	})
}
