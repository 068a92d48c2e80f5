package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/mercabot/internal/providers"
)

// Tool is a function the agent can call.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the tools exposed to the agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ProviderDefs returns the tool schemas in provider format, sorted by name.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs a tool by name. Unknown tools and panics become error results.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (res *Result) {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tools: panic", "tool", name, "panic", rec)
			res = ErrorResult(fmt.Sprintf("tool %s failed", name))
		}
	}()
	if args == nil {
		args = map[string]interface{}{}
	}
	return t.Execute(ctx, args)
}
