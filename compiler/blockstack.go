package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Block stack: loops and try blocks enclosing the current point
// ---------------------------------------------------------------------------

type blockKind int

const (
	blockLoop blockKind = iota
	blockTry            // try with catches only
	blockFinally        // try with a finally block
)

// gap is a region inside a try body that its handlers must not cover: the
// replicated finally code and jump of an early exit.
type gap struct {
	start, end vm.Label
	from, to   int // instruction indices of start and end
}

type block struct {
	kind blockKind

	// loops
	label     string
	node      ast.Expr
	breakL    vm.Label
	continueL vm.Label

	// try blocks
	finally *ast.Block
	gaps    []gap
}

func (t *Translator) pushBlock(b *block) {
	t.blocks = append(t.blocks, b)
}

func (t *Translator) popBlock(b *block) {
	n := len(t.blocks)
	if n == 0 || t.blocks[n-1] != b {
		internalf(b.node, "block stack: popping a block that is not on top")
	}
	t.blocks = t.blocks[:n-1]
}

// exitKind selects how far an exit unwinds.
type exitKind int

const (
	exitBreak exitKind = iota
	exitContinue
	exitReturn
)

// unwind walks the block stack from the top towards the exit's target,
// replicating every finally block on the way, and then emits the jump.
// Each try passed records a gap running from where its finally copy (or
// the exit itself) starts to just after the jump.
func (t *Translator) unwind(n ast.Node, kind exitKind, label string, jump func()) {
	var passed []*block
	var starts []vm.Label
	var froms []int
	saved := t.blocks
	defer func() { t.blocks = saved }()

	for i := len(saved) - 1; i >= 0; i-- {
		b := saved[i]
		switch b.kind {
		case blockLoop:
			if kind != exitReturn && (label == "" || label == b.label) {
				t.blocks = saved[:i+1]
				if kind == exitBreak {
					vm.Goto(t.s, b.breakL)
				} else {
					vm.Goto(t.s, b.continueL)
				}
				t.closeGaps(passed, starts, froms)
				return
			}
		case blockTry, blockFinally:
			start := t.s.NewLabel()
			froms = append(froms, t.s.Len())
			t.s.Mark(start)
			passed = append(passed, b)
			starts = append(starts, start)
			if b.kind == blockFinally {
				// The finally body runs with its own block popped so exits
				// inside it resolve outward.
				t.blocks = saved[:i]
				t.genFinally(b.finally)
			}
		}
	}
	if kind != exitReturn {
		internalf(n, "no enclosing loop for %s", ast.Text(n))
	}
	t.blocks = nil
	jump()
	t.closeGaps(passed, starts, froms)
}

func (t *Translator) closeGaps(passed []*block, starts []vm.Label, froms []int) {
	if len(passed) == 0 {
		return
	}
	end := t.s.NewLabel()
	to := t.s.Len()
	t.s.Mark(end)
	for i, b := range passed {
		b.gaps = append(b.gaps, gap{starts[i], end, froms[i], to})
	}
}

// hasFinally reports whether any try with finally encloses this point.
func (t *Translator) hasFinally() bool {
	for _, b := range t.blocks {
		if b.kind == blockFinally {
			return true
		}
	}
	return false
}

// genFinally emits a copy of a finally body as a statement.
func (t *Translator) genFinally(body *ast.Block) {
	t.genStatement(body)
}

// ---------------------------------------------------------------------------
// break, continue, return
// ---------------------------------------------------------------------------

func (t *Translator) genBreak(n *ast.Break) StackValue {
	return nothingValue(func(vm.Sink) {
		t.unwind(n, exitBreak, n.Label, nil)
	})
}

func (t *Translator) genContinue(n *ast.Continue) StackValue {
	return nothingValue(func(vm.Sink) {
		t.unwind(n, exitContinue, n.Label, nil)
	})
}

func (t *Translator) genReturn(n *ast.Return) StackValue {
	return nothingValue(func(s vm.Sink) {
		target, _ := t.bc.DeclarationOf(n).(*binding.Function)
		if target != nil && target != t.fn {
			t.nonLocalReturn(n)
			return
		}
		ret, retK := t.ret, t.retK
		if n.Value != nil {
			t.put(n.Value, ret, retK)
		} else if ret.Sort != vm.SortVoid {
			coerce(vm.VoidType, types.Unit, ret, retK, s)
		}
		if !t.hasFinally() {
			vm.Return(s, ret)
			return
		}
		// The value survives the finally copies in a temporary.
		slot := -1
		if ret.Sort != vm.SortVoid {
			slot = t.frame.EnterTemp(ret)
			vm.Store(s, slot, ret)
		}
		t.unwind(n, exitReturn, "", func() {
			if slot >= 0 {
				vm.Load(s, slot, ret)
			}
			vm.Return(s, ret)
		})
		if slot >= 0 {
			t.frame.LeaveTemp(ret)
		}
	})
}

// nonLocalReturn handles a return from an enclosing function out of a
// lambda compiled to a class, where no inliner can splice it into place.
func (t *Translator) nonLocalReturn(n *ast.Return) {
	msg := "Non-local returns are not allowed with inlining disabled"
	if t.cfg.Inline {
		msg = "Non-local return from a lambda that is not inlined"
	}
	t.u.diagnose(n, msg)
	vm.Throw(t.s, "java/lang/UnsupportedOperationException", msg)
}
