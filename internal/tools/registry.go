// Package tools maps plan step actions onto executable tool handlers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ouroboros/internal/logging"
)

// ErrNotFound is returned when a plan step names an unregistered action.
var ErrNotFound = errors.New("tool not found")

// Handler executes one tool invocation.
type Handler func(ctx context.Context, params map[string]interface{}) (string, error)

// Tool is a registered action with metadata.
type Tool struct {
	Name         string
	Description  string
	Handler      Handler
	RegisteredAt time.Time
	ExecuteCount int64
}

// Registry manages registered tools and dispatches plan steps to them.
// It implements the tool executor contract the scheduler runs steps through.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous handler.
func (r *Registry) Register(name, description string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &Tool{
		Name:         name,
		Description:  description,
		Handler:      handler,
		RegisteredAt: time.Now(),
	}
	logging.Tools("registered tool %s", name)
	return nil
}

// Invoke dispatches one action to its handler. An unregistered action is an
// error wrapping ErrNotFound so callers can distinguish a bad plan from a
// failed execution.
func (r *Registry) Invoke(ctx context.Context, action string, params map[string]interface{}) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[action]
	r.mu.RUnlock()
	if !ok {
		logging.ToolsError("no tool registered for action %q", action)
		return "", fmt.Errorf("action %q: %w", action, ErrNotFound)
	}

	r.mu.Lock()
	tool.ExecuteCount++
	r.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryTools, action)
	defer timer.Stop()

	out, err := tool.Handler(ctx, params)
	if err != nil {
		logging.ToolsError("tool %s failed: %v", action, err)
		return "", fmt.Errorf("tool %s: %w", action, err)
	}
	logging.ToolsDebug("tool %s completed, %d bytes of output", action, len(out))
	return out, nil
}

// Get retrieves a registered tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
