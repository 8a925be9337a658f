package compiler

import (
	"github.com/chazu/kiln/binding"
)

// ---------------------------------------------------------------------------
// Translation context chain
// ---------------------------------------------------------------------------

// ContextKind classifies a Context record.
type ContextKind int

const (
	ContextClass ContextKind = iota
	ContextMethod
	ContextConstructor
	ContextClosure
)

// Context describes where code is being generated: which class body, which
// function and which closure. Records are immutable; nesting allocates a
// child that points at its parent.
type Context struct {
	parent  *Context
	kind    ContextKind
	class   *binding.Class
	fn      *binding.Function
	closure *Closure
	static  bool
}

// classContext starts a chain at class c. closure is set for local and
// anonymous classes.
func classContext(parent *Context, c *binding.Class, closure *Closure) *Context {
	return &Context{parent: parent, kind: ContextClass, class: c, closure: closure}
}

// intoMethod enters a method of the class (or file facade when class is nil).
func (c *Context) intoMethod(fn *binding.Function, static bool) *Context {
	var class *binding.Class
	if c != nil {
		class = c.class
	}
	kind := ContextMethod
	if fn != nil && fn.Kind == binding.FunctionConstructor {
		kind = ContextConstructor
	}
	return &Context{parent: c, kind: kind, class: class, fn: fn, static: static}
}

// intoClosure enters the body of a lambda, local function or callable
// reference.
func (c *Context) intoClosure(cl *Closure) *Context {
	return &Context{parent: c, kind: ContextClosure, fn: cl.Function, closure: cl}
}

// Parent returns the enclosing record.
func (c *Context) Parent() *Context { return c.parent }

// Kind returns the record kind.
func (c *Context) Kind() ContextKind { return c.kind }

// Function returns the function whose body is being generated.
func (c *Context) Function() *binding.Function {
	for x := c; x != nil; x = x.parent {
		if x.fn != nil {
			return x.fn
		}
	}
	return nil
}

// thisClass returns the class of the object in slot 0, or nil in static
// code and closures.
func (c *Context) thisClass() *binding.Class {
	if c == nil || c.static {
		return nil
	}
	switch c.kind {
	case ContextMethod, ContextConstructor:
		return c.class
	}
	return nil
}

// classContextOf finds the class record for cls.
func (c *Context) classContextOf(cls *binding.Class) *Context {
	for x := c; x != nil; x = x.parent {
		if x.kind == ContextClass && x.class == cls {
			return x
		}
	}
	return nil
}

// constructing reports whether code here runs while cls's constructor or
// static initializer is still executing: the constructor of cls or of a
// class nested in it (through closures) encloses this point.
func (c *Context) constructing(cls *binding.Class) bool {
	for x := c; x != nil; x = x.parent {
		if x.class != cls {
			continue
		}
		if x.kind == ContextConstructor {
			return true
		}
		if x.kind == ContextMethod {
			return false
		}
	}
	return false
}

// enclosingFunctions lists the functions whose bodies enclose this point,
// innermost first.
func (c *Context) enclosingFunctions() []*binding.Function {
	var out []*binding.Function
	for x := c; x != nil; x = x.parent {
		if x.fn != nil && (len(out) == 0 || out[len(out)-1] != x.fn) {
			out = append(out, x.fn)
		}
	}
	return out
}
