package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/callpath/pkg/domain"
)

// Overlay contains item state to visualize on the graph.
type Overlay struct {
	Visited []domain.Position
	Current domain.Position
}

// OverlayFor builds an Overlay from an item's task history and position.
func OverlayFor(item *domain.Item) *Overlay {
	o := &Overlay{Current: item.Position.Clone()}
	for _, h := range item.TaskHistory() {
		if pos, err := domain.ParsePosition(h.Position); err == nil {
			o.Visited = append(o.Visited, pos)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a pipeline's step tree.
// Nested blocks become subgraphs and tasks are chained in execution order.
// It applies semantic styling:
// - Visible task: [Rectangle]
// - Hidden task (control flow): {Rhombus}
// - Empty block: ((Circle))
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(def domain.Definition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var order []string
	writeBlock(&sb, def.Steps, nil, 1, &order)

	for i := 1; i < len(order); i++ {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", order[i-1], order[i]))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, pos := range overlay.Visited {
			id := nodeID(pos)
			if !seen[id] {
				seen[id] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", id))
			}
		}
		if !overlay.Current.IsZero() {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", nodeID(overlay.Current)))
		}
	}

	return sb.String()
}

func writeBlock(sb *strings.Builder, block domain.Block, prefix domain.Position, depth int, order *[]string) {
	indent := strings.Repeat("    ", depth)
	for i, node := range block {
		pos := append(prefix.Clone(), i)
		id := nodeID(pos)
		switch n := node.(type) {
		case domain.Task:
			opener, closer := "[", "]"
			if n.Hidden {
				opener, closer = "{", "}"
			}
			sb.WriteString(fmt.Sprintf("%s%s%s\"%s\"%s\n", indent, id, opener, escape(n.Name), closer))
			*order = append(*order, id)
		case domain.Block:
			if len(n) == 0 {
				sb.WriteString(fmt.Sprintf("%s%s((\"%s\"))\n", indent, id, pos))
				*order = append(*order, id)
				continue
			}
			sb.WriteString(fmt.Sprintf("%ssubgraph %s_block [\"%s\"]\n", indent, id, pos))
			writeBlock(sb, n, pos, depth+1, order)
			sb.WriteString(indent + "end\n")
		}
	}
}

func nodeID(pos domain.Position) string {
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = fmt.Sprint(p)
	}
	return "n" + strings.Join(parts, "_")
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
