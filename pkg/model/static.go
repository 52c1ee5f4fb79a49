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

package model

import "context"

// StaticRouter answers every reasoning step with the same decision. It
// exists so the core runs end-to-end without an external model backend,
// for local smoke testing and development.
type StaticRouter struct {
	Decision   Decision
	Completion Completion
}

// NewStaticRouter returns a router that immediately ends every run.
func NewStaticRouter() *StaticRouter {
	return &StaticRouter{
		Decision: Decision{
			Action:  Action{Type: ActionSilent},
			Thought: "static router: no model backend configured",
		},
		Completion: Completion{Text: ""},
	}
}

func (r *StaticRouter) Decide(ctx context.Context, req *Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := r.Decision
	return &d, nil
}

func (r *StaticRouter) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := r.Completion
	return &c, nil
}

var _ Router = (*StaticRouter)(nil)
