package memory

import "github.com/aretw0/callpath/pkg/domain"

func cloneRun(run *domain.Run) *domain.Run {
	out := *run
	out.Auxiliary = cloneMap(run.Auxiliary)
	return &out
}

func cloneItem(item *domain.Item) *domain.Item {
	out := *item
	out.Position = item.Position.Clone()
	out.Payload = cloneMap(item.Payload)
	out.Auxiliary = cloneMap(item.Auxiliary)
	if item.ParentID != nil {
		parent := *item.ParentID
		out.ParentID = &parent
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}
