package autotrail

import "fmt"

// NodeDefinition is one step's declarative shape: identity plus a lookup key
// into a Registry for its action, rather than the Go closure itself —
// letting a TrailDefinition be loaded from TOML.
type NodeDefinition struct {
	ID     string            `toml:"id"`
	Name   string            `toml:"name"`
	Action string            `toml:"action"`
	Tags   map[string]string `toml:"tags"`
}

// TrailDefinition is a whole trail's declarative shape: its nodes, the
// "must complete before" edges between them, and a name/description.
// Mirrors the teacher's WorkflowDefinition split between graph shape (data,
// here TOML) and executable code (Go closures resolved through a Registry).
type TrailDefinition struct {
	Name        string           `toml:"name"`
	Description string           `toml:"description"`
	Nodes       []NodeDefinition `toml:"nodes"`
	Edges       [][2]string      `toml:"edges"`
}

// Registry resolves the action names a TrailDefinition references to actual
// ActionFuncs. The embedding program populates it before calling Build.
type Registry struct {
	actions map[string]ActionFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionFunc)}
}

// RegisterAction makes an action available to TrailDefinition.Build under
// name. Re-registering a name overwrites the previous binding.
func (r *Registry) RegisterAction(name string, action ActionFunc) {
	r.actions[name] = action
}

// Build validates def and resolves it against reg into an executable Trail.
// Validation errors reuse the same [ErrDuplicateID], [ErrUnknownStep], and
// [ErrWouldCycle] kinds a programmatically built Trail would raise, so a bad
// definition file fails exactly like a bad call to AddStep/AddEdge.
func (def TrailDefinition) Build(reg *Registry) (*Trail, error) {
	if len(def.Nodes) == 0 {
		return nil, newError(ErrBadRequest, "trail definition %q: no nodes", def.Name)
	}

	t := NewTrail(def.Name)
	t.Description = def.Description

	for _, n := range def.Nodes {
		action, ok := reg.actions[n.Action]
		if !ok {
			return nil, newError(ErrBadRequest, "trail definition %q: node %q references unregistered action %q", def.Name, n.ID, n.Action)
		}
		opts := []StepOption{WithTags(n.Tags)}
		if n.Name != "" {
			opts = append(opts, WithName(n.Name))
		}
		if err := t.AddStep(NewStep(n.ID, action, opts...)); err != nil {
			return nil, fmt.Errorf("trail definition %q: %w", def.Name, err)
		}
	}

	for _, e := range def.Edges {
		if err := t.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("trail definition %q: %w", def.Name, err)
		}
	}

	return t, nil
}
