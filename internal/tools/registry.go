// ABOUTME: Tool registry and execution contract for generation turns
// ABOUTME: Tools self-describe with a JSON schema and flag whether they need approval

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/2389/ember-chat/internal/provider"
)

// Tool is one callable capability exposed to the model. Execute returns the
// tool's output as a JSON document. Expected upstream failures (bad input,
// unavailable backend) are reported inside that document so the model can
// react to them; a Go error means the invocation itself broke.
type Tool struct {
	Name          string
	Description   string
	InputSchema   map[string]any
	NeedsApproval bool
	Execute       func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Registry holds the tools available to generation turns.
type Registry struct {
	byName map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// Register adds a tool. Registering a duplicate name is a programming error.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.byName[t.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", t.Name))
	}
	r.byName[t.Name] = t
}

// Get returns the named tool, or nil when unknown.
func (r *Registry) Get(name string) *Tool {
	return r.byName[name]
}

// Defs returns provider tool definitions in stable name order.
func (r *Registry) Defs() []provider.ToolDef {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]provider.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.byName[name]
		defs = append(defs, provider.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}

// NewDefaultRegistry returns the built-in tool set. httpClient is shared by
// all tools; pass nil for a client with a sane default timeout.
func NewDefaultRegistry(httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	r := NewRegistry()
	r.Register(weatherTool(httpClient))
	r.Register(hotNewsTool(httpClient))
	r.Register(randomImageTool(httpClient))
	r.Register(dailyNewsImageTool(httpClient))
	return r
}

// errorResult packages an expected failure as tool output.
func errorResult(format string, args ...any) json.RawMessage {
	out, _ := json.Marshal(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
	return out
}
