package graph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/callpath/internal/presentation/graph"
	"github.com/aretw0/callpath/pkg/domain"
)

func noop(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
	return domain.Next()
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		steps    domain.Block
		overlay  *graph.Overlay
		contains []string
	}{
		{
			name: "Task Shapes",
			steps: domain.Block{
				domain.NewTask("fetch", noop),
				domain.Task{Name: "check", Hidden: true, Fn: noop},
			},
			contains: []string{
				`n0["fetch"]`,
				`n1{"check"}`,
				"n0 --> n1",
			},
		},
		{
			name: "Nested Blocks",
			steps: domain.Block{
				domain.NewTask("a", noop),
				domain.Block{domain.NewTask("b", noop), domain.Block{}},
				domain.NewTask("c", noop),
			},
			contains: []string{
				`subgraph n1_block ["1"]`,
				`n1_0["b"]`,
				`n1_1(("1.1"))`,
				"n0 --> n1_0",
				"n1_0 --> n1_1",
				"n1_1 --> n2",
			},
		},
		{
			name:  "Name Escaping",
			steps: domain.Block{domain.NewTask(`say "hi"`, noop)},
			contains: []string{
				`n0["say 'hi'"]`,
			},
		},
		{
			name: "Overlay",
			steps: domain.Block{
				domain.NewTask("a", noop),
				domain.NewTask("b", noop),
			},
			overlay: &graph.Overlay{
				Visited: []domain.Position{{0}, {0}},
				Current: domain.Position{1},
			},
			contains: []string{
				"class n0 visited;",
				"class n1 current;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(domain.Definition{Name: "test", Steps: tt.steps}, tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
			if tt.overlay != nil && strings.Count(got, "visited;") != 1 {
				t.Errorf("expected visited nodes to be deduplicated, got:\n%v", got)
			}
		})
	}
}

func TestOverlayFor(t *testing.T) {
	item := domain.NewItem(nil)
	item.Position = domain.Position{2, 1}
	item.AppendHistory(domain.HistoryEntry{Name: "a", Position: "0"})
	item.AppendHistory(domain.HistoryEntry{Name: "b", Position: "2.0"})

	o := graph.OverlayFor(item)
	if !o.Current.Equal(domain.Position{2, 1}) {
		t.Errorf("Current = %v", o.Current)
	}
	if len(o.Visited) != 2 || !o.Visited[1].Equal(domain.Position{2, 0}) {
		t.Errorf("Visited = %v", o.Visited)
	}
}
