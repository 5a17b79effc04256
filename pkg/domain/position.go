package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Position addresses a node inside a step tree: [2, 0, 1] means top-level
// element 2, then its child 0, then that child's child 1.
// An empty Position means the item has not started.
type Position []int

// Clone returns an independent copy of the position.
func (p Position) Clone() Position {
	if p == nil {
		return nil
	}
	out := make(Position, len(p))
	copy(out, p)
	return out
}

// IsZero reports whether the position is empty.
func (p Position) IsZero() bool { return len(p) == 0 }

// Equal reports whether both positions have the same components.
func (p Position) Equal(other Position) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Last returns the innermost index, or -1 for an empty position.
func (p Position) Last() int {
	if len(p) == 0 {
		return -1
	}
	return p[len(p)-1]
}

// String renders the position as dot separated indices ("2.0.1").
func (p Position) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// ParsePosition is the inverse of String.
func ParsePosition(s string) (Position, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Position{}, nil
	}
	parts := strings.Split(s, ".")
	pos := make(Position, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid position %q: %w", s, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid position %q: negative index", s)
		}
		pos[i] = v
	}
	return pos, nil
}
