// ABOUTME: Thread-safe name-to-tool registry with change notification.
// ABOUTME: Mutated only in-process; watchers mirror it into other surfaces such as the MCP bridge.

package tools

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps tool names to tools.
type Registry struct {
	mu sync.RWMutex
	// notifyMu orders watcher callbacks the same way as the mutations.
	notifyMu sync.Mutex
	tools    map[string]*Tool
	watchers map[int]func(Change)
	nextID   int
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]*Tool),
		watchers: make(map[int]func(Change)),
		logger:   logger,
	}
}

// Register adds tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.validate(); err != nil {
		return err
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	_, replaced := r.tools[tool.Name]
	r.tools[tool.Name] = tool
	total := len(r.tools)
	watchers := r.snapshotWatchersLocked()
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("tool replaced", "tool_name", tool.Name)
	}
	r.logger.Info("=== TOOL REGISTERED ===",
		"tool_name", tool.Name,
		"blocking", tool.Blocking != nil,
		"total_tools", total,
	)

	notify(watchers, Change{Kind: ChangeRegistered, Name: tool.Name, Tool: tool})
	return nil
}

// Unregister removes the named tool and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	_, exists := r.tools[name]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.tools, name)
	total := len(r.tools)
	watchers := r.snapshotWatchersLocked()
	r.mu.Unlock()

	r.logger.Info("=== TOOL UNREGISTERED ===",
		"tool_name", name,
		"total_tools", total,
	)

	notify(watchers, Change{Kind: ChangeUnregistered, Name: name})
	return true
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	list := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		list = append(list, tool)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Watch calls fn after every later Register or Unregister. Callbacks run on the
// mutating goroutine, outside the registry lock, in the order the mutations
// happened. Callbacks may read the registry but must not mutate it. The
// returned func stops watching.
func (r *Registry) Watch(fn func(Change)) (stop func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) snapshotWatchersLocked() []func(Change) {
	if len(r.watchers) == 0 {
		return nil
	}
	out := make([]func(Change), 0, len(r.watchers))
	for _, fn := range r.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(Change), c Change) {
	for _, fn := range watchers {
		fn(c)
	}
}
