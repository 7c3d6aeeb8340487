// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import "context"

// ControlAdapter exposes the meta-supervisor's child-management surface
// under the method set the recovery strategies drive. The base supervisor
// already uses Parameters/UpdateConfig for its own tunables, so the
// per-component forms live here.
type ControlAdapter struct {
	Meta *Meta
}

// RestartComponent restarts the named child.
func (a ControlAdapter) RestartComponent(ctx context.Context, component string) error {
	return a.Meta.RestartComponent(ctx, component)
}

// Parameters returns the named child's tunable parameters.
func (a ControlAdapter) Parameters(component string) (map[string]float64, error) {
	return a.Meta.ChildParameters(component)
}

// UpdateConfig commits parameters to the named child.
func (a ControlAdapter) UpdateConfig(component string, params map[string]float64) error {
	return a.Meta.UpdateChildConfig(component, params)
}
