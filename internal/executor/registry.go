// Package executor dispatches confirmed actions to the venue's external
// services and runs their inverse operations on rollback.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/venuesync/backend/internal/actions"
)

// Outcome is what an executor returns from a dispatch.
type Outcome struct {
	Result       map[string]any
	RollbackData map[string]any
}

// Executor performs one kind of action against an external service.
// Rollback receives the data captured by Execute. An executor that cannot
// be undone returns no RollbackData and is never asked to roll back.
type Executor interface {
	Execute(ctx context.Context, a *actions.Action) (Outcome, error)
	Rollback(ctx context.Context, a *actions.Action, rollbackData map[string]any) (Outcome, error)
}

// Funcs adapts a pair of functions to Executor. A nil RollbackFunc
// reports that the action has no inverse.
type Funcs struct {
	ExecuteFunc  func(ctx context.Context, a *actions.Action) (Outcome, error)
	RollbackFunc func(ctx context.Context, a *actions.Action, rollbackData map[string]any) (Outcome, error)
}

func (f Funcs) Execute(ctx context.Context, a *actions.Action) (Outcome, error) {
	return f.ExecuteFunc(ctx, a)
}

func (f Funcs) Rollback(ctx context.Context, a *actions.Action, rollbackData map[string]any) (Outcome, error) {
	if f.RollbackFunc == nil {
		return Outcome{}, ErrNotReversible
	}
	return f.RollbackFunc(ctx, a, rollbackData)
}

// Key selects an executor.
type Key struct {
	Service    actions.Service
	ActionType string
}

func (k Key) String() string { return string(k.Service) + "/" + k.ActionType }

type entry struct {
	exec   Executor
	schema *jsonschema.Schema
}

// Registry maps (service, actionType) to an executor and an optional JSON
// Schema for its parameters. It is the catalogue of supported actions.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]entry)}
}

// Register adds an executor. schema may be empty; otherwise it must be a
// Draft 2020-12 JSON Schema for the action's parameters object.
func (r *Registry) Register(service actions.Service, actionType string, exec Executor, schema string) error {
	key := Key{Service: service, ActionType: actionType}
	e := entry{exec: exec}
	if schema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://schemas.venuesync.local/actions/%s/%s.schema.json", service, actionType)
		if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
			return fmt.Errorf("%s: schema load failed: %w", key, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return fmt.Errorf("%s: schema compile failed: %w", key, err)
		}
		e.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%s: executor already registered", key)
	}
	r.entries[key] = e
	return nil
}

// Lookup returns the executor for a service and action type.
func (r *Registry) Lookup(service actions.Service, actionType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Key{Service: service, ActionType: actionType}]
	return e.exec, ok
}

// Supports reports whether an executor is registered.
func (r *Registry) Supports(service actions.Service, actionType string) bool {
	_, ok := r.Lookup(service, actionType)
	return ok
}

// Keys lists the registered actions in a stable order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Validate checks that the action is supported and that its parameters
// satisfy the registered schema. Failures are validation errors.
func (r *Registry) Validate(a *actions.Action) error {
	r.mu.RLock()
	e, ok := r.entries[Key{Service: a.Service, ActionType: a.ActionType}]
	r.mu.RUnlock()
	if !ok {
		return actions.Validation("unsupported action %s/%s", a.Service, a.ActionType)
	}
	if e.schema == nil {
		return nil
	}

	doc, err := normalize(a.Parameters)
	if err != nil {
		return actions.Validation("invalid parameters: %v", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return actions.Validation("invalid parameters: %s", strings.Join(leafMessages(ve), "; "))
		}
		return actions.Validation("invalid parameters: %v", err)
	}
	return nil
}

// normalize round-trips params through JSON so values built in Go (ints,
// typed slices) validate the same way decoded request bodies do.
func normalize(params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func leafMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafMessages(c)...)
	}
	return out
}
