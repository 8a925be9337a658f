package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Receivers: this, outer instances, extension receivers and singletons
// ---------------------------------------------------------------------------

// thisType returns the machine type of `this` inside cls. Members of value
// classes operate on the unboxed value.
func thisType(cls *binding.Class) vm.Type {
	if cls.Kind == binding.ClassInline && cls.Type != nil {
		return types.Map(cls.Type)
	}
	return vm.ObjectOf(cls.Name)
}

func classKType(cls *binding.Class) *types.Type {
	if cls.Type != nil {
		return cls.Type
	}
	return types.Class(cls.Name)
}

// isSubclassOf reports whether an instance of c is an instance of target.
func isSubclassOf(c, target *binding.Class) bool {
	for x := c; x != nil; x = x.SuperClass {
		if x == target || x.Name == target.Name || x.Super == target.Name {
			return true
		}
		for _, itf := range x.Interfaces {
			if itf == target.Name {
				return true
			}
		}
	}
	return false
}

// thisHop is one step from an instance to its enclosing instance.
type thisHop struct {
	owner string
	t     vm.Type
}

// thisPath finds how to reach an instance of cls from this frame: the
// class of the starting instance and the this$0 fields to follow. ok is
// false when no enclosing instance is cls.
func (t *Translator) thisPath(cls *binding.Class) (start *binding.Class, fromClosure bool, hops []thisHop, ok bool) {
	var cur *binding.Class
	if t.ctx.kind == ContextClosure {
		cl := t.closure
		if cl == nil || cl.OuterThis == nil {
			return nil, false, nil, false
		}
		fromClosure = true
		hops = append(hops, thisHop{cl.Class, thisType(cl.OuterThis)})
		cur = cl.OuterThis
	} else {
		cur = t.ctx.thisClass()
		if cur == nil {
			return nil, false, nil, false
		}
	}
	start = cur
	for !isSubclassOf(cur, cls) {
		if cc := t.ctx.classContextOf(cur); cc != nil && cc.closure != nil && cc.closure.OuterThis != nil {
			hops = append(hops, thisHop{cur.Name, thisType(cc.closure.OuterThis)})
			cur = cc.closure.OuterThis
			continue
		}
		if cur.Inner && cur.Outer != nil {
			hops = append(hops, thisHop{cur.Name, thisType(cur.Outer)})
			cur = cur.Outer
			continue
		}
		return nil, false, nil, false
	}
	return start, fromClosure, hops, true
}

// genThis returns the instance of cls visible here: this, or an outer
// instance reached through this$0 fields. Singletons without an instance
// in reach fall back to their static instance.
func (t *Translator) genThis(cls *binding.Class, n ast.Node) StackValue {
	_, fromClosure, hops, ok := t.thisPath(cls)
	if !ok {
		if cls.IsSingleton() {
			return t.staticInstance(cls)
		}
		internalf(n, "no instance of %s in scope", cls.Name)
	}
	tt := thisType(cls)
	return coerced(tt, classKType(cls), func(s vm.Sink) {
		if fromClosure {
			s.VarInsn(vm.OpALOAD, 0)
		} else {
			vm.Load(s, 0, thisType(t.ctx.thisClass()))
		}
		for _, h := range hops {
			s.FieldInsn(vm.OpGETFIELD, h.owner, "this$0", h.t)
		}
	})
}

// genObject returns the instance of a singleton. While its constructor is
// running the static instance is not yet assigned, so the partially
// constructed this is used instead.
func (t *Translator) genObject(cls *binding.Class) StackValue {
	if t.ctx.constructing(cls) {
		if _, _, _, ok := t.thisPath(cls); ok {
			return t.genThis(cls, nil)
		}
	}
	return t.staticInstance(cls)
}

func (t *Translator) staticInstance(cls *binding.Class) StackValue {
	ct := vm.ObjectOf(cls.Name)
	if cls.Kind == binding.ClassCompanion && cls.Outer != nil {
		return newField(cls.Outer.Name, "Companion", ct, classKType(cls), true, nil)
	}
	return newField(cls.Name, "INSTANCE", ct, classKType(cls), true, nil)
}

// genExtensionReceiver returns the extension receiver of fn: a parameter
// slot of this frame or a captured field.
func (t *Translator) genExtensionReceiver(fn *binding.Function, n ast.Node) StackValue {
	kt := fn.Receiver
	vt := types.Map(kt)
	if slot, st, ok := t.frame.Lookup(receiverKey{fn}); ok {
		return newLocal(slot, st, kt)
	}
	if t.closure != nil && t.closure.ReceiverOf == fn {
		return newField(t.closure.Class, "$receiver", vt, kt, false, t.closureSelf())
	}
	for x := t.ctx; x != nil; x = x.parent {
		if x.kind == ContextClass && x.closure != nil && x.closure.ReceiverOf == fn {
			return newField(x.class.Name, "$receiver", vt, kt, false, t.genThis(x.class, n))
		}
	}
	internalf(n, "extension receiver of %s is not in scope", fn.Name)
	return nil
}

// closureSelf is the closure object whose invoke is being generated.
func (t *Translator) closureSelf() StackValue {
	ct := vm.ObjectOf(t.closure.Class)
	return newLocal(0, ct, nil)
}

// genThisExpr translates `this` and `this@label`.
func (t *Translator) genThisExpr(n *ast.This) StackValue {
	switch d := t.bc.DeclarationOf(n).(type) {
	case *binding.Class:
		return t.genThis(d, n)
	case *binding.Function:
		return t.genExtensionReceiver(d, n)
	case nil:
		if c := t.ctx.thisClass(); c != nil {
			return t.genThis(c, n)
		}
		if t.closure != nil && t.closure.OuterThis != nil {
			return t.genThis(t.closure.OuterThis, n)
		}
	}
	internalf(n, "unresolved this")
	return nil
}

// receiverValue materializes a resolved receiver.
func (t *Translator) receiverValue(r *binding.Receiver, n ast.Node) StackValue {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case binding.ReceiverExpression:
		return t.gen(r.Expr)
	case binding.ReceiverThis:
		return t.genThis(r.Class, n)
	case binding.ReceiverExtension:
		return t.genExtensionReceiver(r.Function, n)
	case binding.ReceiverObject:
		return t.genObject(r.Class)
	}
	internalf(n, "unknown receiver kind %d", r.Kind)
	return nil
}

// findCapture locates a captured variable: a field of the closure being
// generated or of an enclosing local class.
func (t *Translator) findCapture(d binding.Decl) (*Capture, string, StackValue) {
	if t.closure != nil {
		if c := t.closure.capture(d); c != nil {
			return c, t.closure.Class, t.closureSelf()
		}
	}
	for x := t.ctx; x != nil; x = x.parent {
		if x.kind != ContextClass || x.closure == nil {
			continue
		}
		if c := x.closure.capture(d); c != nil {
			return c, x.class.Name, t.genThis(x.class, nil)
		}
	}
	return nil, "", nil
}
