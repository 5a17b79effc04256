package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
)

const mask = "***"

type piiMiddleware struct {
	ports.Store
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks payload values whose keys
// match the patterns on every read. Stored data is left untouched, so the
// wrapped store is meant for read-only views such as inspection tools.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.Store) ports.Store {
		return &piiMiddleware{Store: next, patterns: patterns}
	}
}

func (m *piiMiddleware) LoadItem(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := m.Store.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.redact(item), nil
}

func (m *piiMiddleware) ListItems(ctx context.Context, filter ports.ItemFilter) ([]*domain.Item, error) {
	items, err := m.Store.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		items[i] = m.redact(item)
	}
	return items, nil
}

func (m *piiMiddleware) Atomic(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	return m.Store.Atomic(ctx, func(ctx context.Context, tx ports.Store) error {
		return fn(ctx, &piiMiddleware{Store: tx, patterns: m.patterns})
	})
}

func (m *piiMiddleware) redact(item *domain.Item) *domain.Item {
	// Stores may hand out shared maps, so mask a copy.
	cloned := *item
	cloned.Payload = deepCopyMap(item.Payload)
	cloned.Auxiliary = deepCopyMap(item.Auxiliary)
	maskMap(cloned.Payload, m.patterns)
	if p, ok := cloned.Auxiliary[domain.AuxActionPayload].(map[string]any); ok {
		maskMap(p, m.patterns)
	}
	return &cloned
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(t)
		case []any:
			out[k] = deepCopySlice(t)
		default:
			out[k] = v
		}
	}
	return out
}

func deepCopySlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		switch t := v.(type) {
		case map[string]any:
			out[i] = deepCopyMap(t)
		case []any:
			out[i] = deepCopySlice(t)
		default:
			out[i] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}

		switch t := v.(type) {
		case map[string]any:
			maskMap(t, patterns)
		case []any:
			for _, e := range t {
				if sub, ok := e.(map[string]any); ok {
					maskMap(sub, patterns)
				}
			}
		}
	}
}
