package autotrail

import "testing"

func TestTrailDefinitionBuild(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAction("noop", noopAction)

	def := TrailDefinition{
		Name: "deploy",
		Nodes: []NodeDefinition{
			{ID: "build", Action: "noop"},
			{ID: "test", Action: "noop", Tags: map[string]string{"stage": "ci"}},
		},
		Edges: [][2]string{{"build", "test"}},
	}

	tr, err := def.Build(reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tr.Steps()) != 2 {
		t.Fatalf("Steps() = %d, want 2", len(tr.Steps()))
	}
	if got := tr.Predecessors("test"); len(got) != 1 || got[0] != "build" {
		t.Fatalf("Predecessors(test) = %v, want [build]", got)
	}
}

func TestTrailDefinitionUnregisteredAction(t *testing.T) {
	reg := NewRegistry()
	def := TrailDefinition{
		Name:  "deploy",
		Nodes: []NodeDefinition{{ID: "build", Action: "missing"}},
	}
	if _, err := def.Build(reg); err == nil {
		t.Fatal("Build() with unregistered action should fail")
	}
}

func TestTrailDefinitionCyclicEdges(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterAction("noop", noopAction)
	def := TrailDefinition{
		Name: "cyclic",
		Nodes: []NodeDefinition{
			{ID: "a", Action: "noop"},
			{ID: "b", Action: "noop"},
		},
		Edges: [][2]string{{"a", "b"}, {"b", "a"}},
	}
	if _, err := def.Build(reg); err == nil {
		t.Fatal("Build() with cyclic edges should fail")
	}
}

func TestTrailDefinitionNoNodes(t *testing.T) {
	reg := NewRegistry()
	if _, err := (TrailDefinition{Name: "empty"}).Build(reg); err == nil {
		t.Fatal("Build() with no nodes should fail")
	}
}
