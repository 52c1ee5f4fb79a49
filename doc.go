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

// Package swarmai is the runtime core of a multi-agent platform: a per-user
// population of long-lived autonomous agents (one master plus a bounded tree
// of sub-agents) that react to external events and internal triggers, reason
// over a tool catalogue under permission constraints, and perform observable
// side effects.
//
// The core is composed of explicitly-constructed services wired together in
// cmd/swarmai:
//
//   - pkg/runtime: the iteration-bounded reasoning loop
//   - pkg/orchestrator: manager-specialist decomposition
//   - pkg/plan: DAG-based plan execution
//   - pkg/trigger: periodic self-prompting
//   - pkg/heartbeat: per-agent liveness cycles
//   - pkg/selfheal: diagnose/fix/test/rollback over agent configuration
//   - pkg/hierarchy: the agent tree with inheritance and ownership
//   - pkg/memory + pkg/vector: hybrid (vector + keyword) recall
//   - pkg/guard, pkg/hooks, pkg/recovery, pkg/idempotency, pkg/checkpoint,
//     pkg/permission, pkg/audit, pkg/approval: the supporting substrate
//
// Model backends, concrete messaging transports and user-facing APIs are
// external collaborators consumed through interfaces (pkg/model.Router,
// pkg/tool.Handler, pkg/notify.Notifier).
package swarmai
