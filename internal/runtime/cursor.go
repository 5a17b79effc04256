package runtime

import (
	"fmt"

	"github.com/aretw0/callpath/pkg/domain"
)

// Resolve returns the node addressed by pos inside tree.
// Every prefix of pos must address a Block and every index must be in range.
func Resolve(tree domain.Block, pos domain.Position) (domain.Node, error) {
	var node domain.Node = tree
	for depth, idx := range pos {
		block, ok := node.(domain.Block)
		if !ok {
			return nil, &domain.AddressError{Position: pos.Clone(), Reason: fmt.Sprintf("component %d does not address a block", depth)}
		}
		if idx < 0 || idx >= len(block) {
			return nil, &domain.AddressError{Position: pos.Clone(), Reason: fmt.Sprintf("index %d out of range at depth %d", idx, depth)}
		}
		node = block[idx]
	}
	return node, nil
}

// Cursor walks a step tree. It is owned by the engine: steps only ever ask
// for movements through their Outcome.
type Cursor struct {
	tree domain.Block
	pos  domain.Position
}

// NewCursor places a cursor at start, or at the first element when start is empty.
func NewCursor(tree domain.Block, start domain.Position) *Cursor {
	pos := start.Clone()
	if len(pos) == 0 {
		pos = domain.Position{0}
	}
	return &Cursor{tree: tree, pos: pos}
}

// Position returns a copy of the current address.
func (c *Cursor) Position() domain.Position { return c.pos.Clone() }

// Settle moves the cursor onto the next executable Task, descending into
// Blocks and climbing out of exhausted ones. It reports false once the
// top-level list is exhausted; the cursor is then at [len(tree)].
func (c *Cursor) Settle() (domain.Task, bool, error) {
	for {
		parent, err := c.blockAt(c.pos[:len(c.pos)-1])
		if err != nil {
			return domain.Task{}, false, err
		}
		idx := c.pos.Last()
		if idx < 0 {
			return domain.Task{}, false, &domain.AddressError{Position: c.Position(), Reason: "negative index"}
		}
		if idx >= len(parent) {
			if len(c.pos) == 1 {
				c.pos[0] = len(c.tree)
				return domain.Task{}, false, nil
			}
			c.pos = c.pos[:len(c.pos)-1]
			c.pos[len(c.pos)-1]++
			continue
		}
		switch n := parent[idx].(type) {
		case domain.Block:
			c.pos = append(c.pos, 0)
		case domain.Task:
			return n, true, nil
		default:
			return domain.Task{}, false, &domain.AddressError{Position: c.Position(), Reason: fmt.Sprintf("unknown node type %T", n)}
		}
	}
}

// Next moves to the following sibling.
func (c *Cursor) Next() { c.pos[len(c.pos)-1]++ }

// Prev moves to the previous sibling, staying on the first one.
func (c *Cursor) Prev() {
	if c.pos[len(c.pos)-1] > 0 {
		c.pos[len(c.pos)-1]--
	}
}

// Apply performs a jump requested by a step.
func (c *Cursor) Apply(j domain.Jump) error {
	switch j.Kind {
	case domain.JumpRelative:
		return c.JumpRelative(j.Offset)
	case domain.JumpInto:
		return c.JumpInto(j.Offset)
	case domain.JumpOut:
		return c.JumpOut(j.Levels)
	}
	return &domain.AddressError{Position: c.Position(), Reason: fmt.Sprintf("unknown jump kind %d", j.Kind)}
}

// JumpRelative moves offset siblings at the current depth. Landing past the
// end of the list is allowed and simply exhausts it.
func (c *Cursor) JumpRelative(offset int) error {
	target := c.pos.Last() + offset
	if target < 0 {
		return &domain.AddressError{Position: c.Position(), Reason: fmt.Sprintf("relative jump %+d before start of block", offset)}
	}
	c.pos[len(c.pos)-1] = target
	return nil
}

// JumpInto moves offset siblings and descends into the Block found there.
func (c *Cursor) JumpInto(offset int) error {
	target := c.pos.Clone()
	target[len(target)-1] += offset
	node, err := Resolve(c.tree, target)
	if err != nil {
		return err
	}
	if _, ok := node.(domain.Block); !ok {
		return &domain.AddressError{Position: target, Reason: "jump into a node that is not a block"}
	}
	c.pos = append(target, 0)
	return nil
}

// JumpOut leaves levels enclosing blocks and moves past the node reached.
func (c *Cursor) JumpOut(levels int) error {
	if levels < 1 || levels >= len(c.pos) {
		return &domain.AddressError{Position: c.Position(), Reason: fmt.Sprintf("cannot leave %d levels", levels)}
	}
	c.pos = c.pos[:len(c.pos)-levels]
	c.pos[len(c.pos)-1]++
	return nil
}

func (c *Cursor) blockAt(prefix domain.Position) (domain.Block, error) {
	node, err := Resolve(c.tree, prefix)
	if err != nil {
		return nil, err
	}
	block, ok := node.(domain.Block)
	if !ok {
		return nil, &domain.AddressError{Position: prefix.Clone(), Reason: "does not address a block"}
	}
	return block, nil
}
