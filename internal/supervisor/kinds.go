// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/task"
)

// KindMeta is the root supervisor kind; it routes instead of executing.
const KindMeta = "meta"

// ExecutorFactory builds the executor for one supervisor kind.
type ExecutorFactory func(cfg config.SupervisorConfig) (Executor, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]ExecutorFactory{}
)

// RegisterKind installs a factory for a kind tag. Registering a duplicate
// tag is an init error so wiring mistakes surface at startup.
func RegisterKind(kind string, factory ExecutorFactory) error {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, exists := kinds[kind]; exists {
		return errs.New(errs.KindInit, "supervisor.RegisterKind", "kind %q already registered", kind)
	}
	kinds[kind] = factory
	return nil
}

// NewFromConfig builds and initializes a supervisor of the configured
// kind. Unknown kinds are an init error.
func NewFromConfig(cfg config.SupervisorConfig, deps Deps) (*Base, error) {
	if deps.Executor == nil {
		kindsMu.RLock()
		factory, ok := kinds[cfg.Kind]
		kindsMu.RUnlock()
		if !ok {
			return nil, errs.New(errs.KindInit, "supervisor.NewFromConfig", "unknown kind %q", cfg.Kind)
		}
		executor, err := factory(cfg)
		if err != nil {
			return nil, err
		}
		deps.Executor = executor
	}

	b := New(cfg.ID, cfg.Kind, deps)
	if err := b.Initialize(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func init() {
	// The echo kind completes tasks with their own payload. It exists so a
	// tree is usable out of the box and as the reference executor in tests.
	//nolint:errcheck // first registration cannot collide
	RegisterKind("echo", func(config.SupervisorConfig) (Executor, error) {
		return ExecutorFunc(func(ctx context.Context, t *task.Task) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				return t.Payload, nil
			}
		}), nil
	})
}
