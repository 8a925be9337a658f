package compiler

import (
	"sort"
	"strconv"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Closures: lambdas, local functions, callable references, local classes
// ---------------------------------------------------------------------------

// ClosureGenerator materializes the class of a lambda, local function or
// callable reference around its generated invoke body.
type ClosureGenerator interface {
	GenerateClosure(cl *Closure, invoke *vm.Method) (*vm.Class, error)
}

// Inliner splices the body of an inline function into the caller. It
// returns false to fall back to a regular call.
type Inliner interface {
	InlineCall(s vm.Sink, fn *binding.Function, args []StackValue) bool
}

// ClosureKind classifies a Closure.
type ClosureKind int

const (
	ClosureLambda ClosureKind = iota
	ClosureLocalFunction
	ClosureReference
	ClosureClass // local class or object expression
)

// Capture is one value a closure copies from its enclosing scopes into a
// field.
type Capture struct {
	Decl     binding.Decl
	Field    string
	Type     vm.Type // field type: the Ref cell of a shared variable
	KType    *types.Type
	Shared   bool
	Delegate *delegateInfo

	bound StackValue // bound receiver of a callable reference
}

// Closure describes what a nested callable or class captures. Constructor
// arguments follow a fixed order: outer instance, extension receiver,
// captured variables, the captures of a local superclass and, for suspend
// lambdas, a trailing continuation.
type Closure struct {
	Kind     ClosureKind
	Class    string
	Function *binding.Function // invoke body; nil for classes
	Owner    *binding.Class    // ClosureClass only

	OuterThis    *binding.Class
	ReceiverOf   *binding.Function
	Vars         []*Capture
	Super        *Closure
	Continuation bool
}

// capture returns the capture of d, looking through captured superclasses.
func (c *Closure) capture(d binding.Decl) *Capture {
	for x := c; x != nil; x = x.Super {
		for _, v := range x.Vars {
			if v.Decl == d && v.Decl != nil {
				return v
			}
		}
	}
	return nil
}

// constructorParams lists the constructor parameters in capture order.
func (c *Closure) constructorParams() []vm.Type {
	var ps []vm.Type
	for x := c; x != nil; x = x.Super {
		if x.OuterThis != nil {
			ps = append(ps, thisType(x.OuterThis))
		}
		if x.ReceiverOf != nil {
			ps = append(ps, types.Map(x.ReceiverOf.Receiver))
		}
		for _, v := range x.Vars {
			ps = append(ps, v.Type)
		}
	}
	if c.Continuation {
		ps = append(ps, vm.ObjectOf(continuationClass))
	}
	return ps
}

// takesContinuation decides the trailing constructor argument: crossinline
// lambdas and references to suspend functions never get one.
func takesContinuation(fn *binding.Function) bool {
	return fn != nil && fn.Suspend && !fn.Crossinline && !fn.SuspendReference
}

// ---------------------------------------------------------------------------
// Capture analysis
// ---------------------------------------------------------------------------

// freeScan walks a nested callable or class and reports what it uses from
// the scopes around it.
type freeScan struct {
	bc      binding.Context
	fns     map[*binding.Function]bool
	classes map[*binding.Class]bool

	decls     []binding.Decl
	seen      map[binding.Decl]bool
	instances []*binding.Class
	receivers []*binding.Function
}

func newFreeScan(bc binding.Context, root ast.Node, self *binding.Function, selfClass *binding.Class) *freeScan {
	f := &freeScan{
		bc:      bc,
		fns:     make(map[*binding.Function]bool),
		classes: make(map[*binding.Class]bool),
		seen:    make(map[binding.Decl]bool),
	}
	if self != nil {
		f.fns[self] = true
	}
	if selfClass != nil {
		f.classes[selfClass] = true
	}
	ast.Inspect(root, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.Lambda, *ast.FunDecl:
			if fn, ok := bc.DeclarationOf(x).(*binding.Function); ok {
				f.fns[fn] = true
			}
		case *ast.Param:
			if p, ok := bc.DeclarationOf(x).(*binding.Parameter); ok && p.Function != nil {
				f.fns[p.Function] = true
			}
		case *ast.ClassDecl:
			if c, ok := bc.DeclarationOf(x).(*binding.Class); ok {
				f.classes[c] = true
			}
		case *ast.ObjectLit:
			if c, ok := bc.DeclarationOf(x.Decl).(*binding.Class); ok {
				f.classes[c] = true
			}
		}
		return true
	})
	ast.Inspect(root, func(n ast.Node) bool {
		f.visit(n)
		return true
	})
	return f
}

func (f *freeScan) inside(fn *binding.Function) bool {
	return fn == nil || f.fns[fn]
}

func (f *freeScan) addDecl(d binding.Decl) {
	if !f.seen[d] {
		f.seen[d] = true
		f.decls = append(f.decls, d)
	}
}

func (f *freeScan) addInstance(c *binding.Class) {
	if c == nil || f.classes[c] {
		return
	}
	for _, x := range f.instances {
		if x == c {
			return
		}
	}
	f.instances = append(f.instances, c)
}

func (f *freeScan) addReceiver(fn *binding.Function) {
	if f.inside(fn) {
		return
	}
	for _, x := range f.receivers {
		if x == fn {
			return
		}
	}
	f.receivers = append(f.receivers, fn)
}

func (f *freeScan) visit(n ast.Node) {
	switch x := n.(type) {
	case *ast.Name:
		f.reference(f.bc.DeclarationOf(x))
	case *ast.This:
		switch d := f.bc.DeclarationOf(x).(type) {
		case *binding.Class:
			f.addInstance(d)
		case *binding.Function:
			f.addReceiver(d)
		case nil:
			f.addInstance(outerMarker)
		}
	}
	e, ok := n.(ast.Expr)
	if !ok {
		return
	}
	call := f.bc.ResolvedCallOf(e)
	if call == nil {
		return
	}
	if fn := call.Function(); fn != nil {
		if fn.Kind == binding.FunctionLocal && !f.inside(fn) {
			f.addDecl(fn)
		}
		if fn.Kind == binding.FunctionMember && !fn.Static && call.Dispatch == nil && fn.Owner != nil && !fn.Owner.IsSingleton() {
			f.addInstance(fn.Owner)
		}
	}
	if p := call.Property(); p != nil && p.Owner != nil && !p.IsStatic() && call.Dispatch == nil && p.Receiver == nil {
		f.addInstance(p.Owner)
	}
	for _, r := range []*binding.Receiver{call.Dispatch, call.Extension} {
		if r == nil {
			continue
		}
		switch r.Kind {
		case binding.ReceiverThis:
			f.addInstance(r.Class)
		case binding.ReceiverExtension:
			f.addReceiver(r.Function)
		}
	}
}

func (f *freeScan) reference(d binding.Decl) {
	switch v := d.(type) {
	case *binding.Variable:
		if !f.inside(v.Function) {
			f.addDecl(v)
		}
	case *binding.Parameter:
		if !f.inside(v.Function) {
			f.addDecl(v)
		}
	case *binding.Function:
		if v.Kind == binding.FunctionLocal && !f.inside(v) {
			f.addDecl(v)
		}
	case *binding.Property:
		if v.Owner != nil && !v.IsStatic() && v.Receiver == nil {
			f.addInstance(v.Owner)
		}
	}
}

// outerMarker stands for an unqualified this whose class the scan cannot
// name; it resolves to the innermost enclosing instance.
var outerMarker = &binding.Class{Name: "<this>"}

// markShared finds the mutable variables captured by any closure inside
// body. They live in Ref cells so writes on either side are seen by both.
func (t *Translator) markShared(body ast.Node) {
	ast.Inspect(body, func(n ast.Node) bool {
		var root ast.Node
		var self *binding.Function
		var selfClass *binding.Class
		switch x := n.(type) {
		case *ast.Lambda:
			root = x
			self, _ = t.bc.DeclarationOf(x).(*binding.Function)
		case *ast.FunDecl:
			root = x
			self, _ = t.bc.DeclarationOf(x).(*binding.Function)
		case *ast.ClassDecl:
			root = x
			selfClass, _ = t.bc.DeclarationOf(x).(*binding.Class)
		case *ast.ObjectLit:
			root = x.Decl
			selfClass, _ = t.bc.DeclarationOf(x.Decl).(*binding.Class)
		default:
			return true
		}
		for _, d := range newFreeScan(t.bc, root, self, selfClass).decls {
			if v, ok := d.(*binding.Variable); ok && v.Mutable && !v.Delegated {
				t.shared[v] = true
			}
		}
		return true
	})
}

// newClosure computes the captures of a nested callable or class rooted
// at root, as seen from the code being generated.
func (t *Translator) newClosure(kind ClosureKind, class string, root ast.Node, fn *binding.Function, owner *binding.Class) *Closure {
	cl := &Closure{Kind: kind, Class: class, Function: fn, Owner: owner}
	scan := newFreeScan(t.bc, root, fn, owner)

	for _, c := range scan.instances {
		if c == outerMarker {
			c = t.ctx.thisClass()
			if c == nil && t.closure != nil {
				c = t.closure.OuterThis
			}
			if c == nil {
				continue
			}
		}
		start, _, _, ok := t.thisPath(c)
		if !ok {
			if c.IsSingleton() {
				continue
			}
			internalf(root, "%s needs an instance of %s, none is in scope", class, c.Name)
		}
		if cl.OuterThis == nil {
			cl.OuterThis = start
		}
	}
	for _, fn := range scan.receivers {
		if cl.ReceiverOf == nil {
			cl.ReceiverOf = fn
			continue
		}
		if cl.ReceiverOf != fn {
			internalf(root, "%s captures more than one extension receiver", class)
		}
	}

	names := make(map[string]int)
	for _, d := range scan.decls {
		c := &Capture{Decl: d, KType: declType(d)}
		name := "$" + d.DeclName()
		if k := names[name]; k > 0 {
			name += "$" + strconv.Itoa(k)
		}
		names["$"+d.DeclName()]++
		c.Field = name
		switch v := d.(type) {
		case *binding.Function:
			lc := t.u.localFunction(v)
			if lc == nil {
				internalf(root, "local function %s is used before its declaration", v.Name)
			}
			c.Type = vm.ObjectOf(lc.Class)
		case *binding.Variable:
			if _, _, inFrame := t.frame.Lookup(v); !inFrame && !v.Delegated {
				if outer, _, _ := t.findCapture(v); outer != nil {
					c.Shared, c.Type = outer.Shared, outer.Type
					break
				}
			}
			if v.Delegated {
				info := t.delegateOf(v)
				if info == nil {
					internalf(root, "delegated %s has no delegate in scope", v.Name)
				}
				c.Delegate, c.Type = info, info.t
				break
			}
			c.Shared = t.shared[v]
			c.Type = t.storageType(v, v.Type)
		default:
			c.Type = types.Map(c.KType)
		}
		cl.Vars = append(cl.Vars, c)
	}
	return cl
}

// delegateOf finds the delegate of a local delegated variable, in this
// frame or captured.
func (t *Translator) delegateOf(v binding.Decl) *delegateInfo {
	if info, ok := t.delegates[v]; ok {
		return info
	}
	if c, _, _ := t.findCapture(v); c != nil {
		return c.Delegate
	}
	return nil
}

// captureSource returns the value stored into a capture field: the Ref
// cell itself for shared variables and the delegate object for delegated
// ones.
func (t *Translator) captureSource(c *Capture, n ast.Node) StackValue {
	if c.bound != nil {
		return c.bound
	}
	if fn, ok := c.Decl.(*binding.Function); ok {
		return t.localFunctionValue(fn, n)
	}
	if c.Delegate != nil || c.Shared {
		key := any(c.Decl)
		if c.Delegate != nil {
			key = delegateKey{c.Decl}
		}
		if slot, st, ok := t.frame.Lookup(key); ok {
			return newLocal(slot, st, nil)
		}
		if outer, owner, recv := t.findCapture(c.Decl); outer != nil {
			return newField(owner, outer.Field, outer.Type, nil, false, recv)
		}
		internalf(n, "captured %s is not in scope", c.Decl.DeclName())
	}
	return t.localValue(c.Decl, n)
}

// captureOperands returns the constructor arguments of cl other than the
// continuation, with their types.
func (t *Translator) captureOperands(cl *Closure, n ast.Node) ([]operand, []vm.Type) {
	var ops []operand
	var ts []vm.Type
	for x := cl; x != nil; x = x.Super {
		if x.OuterThis != nil {
			ot := thisType(x.OuterThis)
			ops = append(ops, operand{val: t.genThis(x.OuterThis, n), t: ot, pure: true})
			ts = append(ts, ot)
		}
		if x.ReceiverOf != nil {
			rt := types.Map(x.ReceiverOf.Receiver)
			ops = append(ops, operand{val: t.genExtensionReceiver(x.ReceiverOf, n), t: rt, kt: x.ReceiverOf.Receiver, pure: true})
			ts = append(ts, rt)
		}
		for _, c := range x.Vars {
			ops = append(ops, operand{val: t.captureSource(c, n), t: c.Type, kt: captureKType(c), pure: c.bound == nil})
			ts = append(ts, c.Type)
		}
	}
	return ops, ts
}

func captureKType(c *Capture) *types.Type {
	if c.Shared || c.Delegate != nil {
		return nil
	}
	return c.KType
}

// newClosureInstance allocates cl and passes its captures.
func (t *Translator) newClosureInstance(cl *Closure, kt *types.Type, n ast.Node) StackValue {
	ct := vm.ObjectOf(cl.Class)
	return coerced(ct, kt, func(s vm.Sink) {
		ops, _ := t.captureOperands(cl, n)
		vals, release := t.prepareOperands(ops, nil)
		vm.New(s, cl.Class)
		putOperands(ops, vals, s)
		release()
		if cl.Continuation {
			s.Insn(vm.OpACONST_NULL)
		}
		desc := vm.MethodType{Params: cl.constructorParams(), Return: vm.VoidType}.Descriptor()
		s.MethodInsn(vm.OpINVOKESPECIAL, cl.Class, "<init>", desc, false)
	})
}

// ---------------------------------------------------------------------------
// Invoke bodies
// ---------------------------------------------------------------------------

// closureTranslator prepares a translator for the invoke body of cl:
// slot 0 holds the closure, then the extension receiver, the parameters
// and the continuation.
func (t *Translator) closureTranslator(cl *Closure, fn *binding.Function, b vm.Sink) *Translator {
	c := newTranslator(t.u, t.ctx.intoClosure(cl), fn, cl.Class, b, t.names)
	c.out = t.out
	c.shared = t.shared
	c.closure = cl
	c.beginMethod(vm.ObjectOf(cl.Class), fn)
	return c
}

// genClosureBody generates the invoke method of a lambda or local
// function.
func (t *Translator) genClosureBody(cl *Closure, fn *binding.Function, body ast.Expr) *vm.Method {
	b := vm.NewBuilder()
	c := t.closureTranslator(cl, fn, b)
	c.markShared(body)
	c.genBody(body)
	return t.finishClosure(c, b, fn)
}

// finishClosure finalizes an invoke body and hands it to the closure
// generator. Reified type parameters used inside propagate outwards.
func (t *Translator) finishClosure(c *Translator, b *vm.Builder, fn *binding.Function) *vm.Method {
	m := c.endMethod(b, "invoke", fnType(fn).Descriptor(), false)
	for name := range c.reified {
		t.reified[name] = true
	}
	gen := t.cfg.Closures
	if gen == nil {
		gen = DefaultClosures{}
	}
	cls, err := gen.GenerateClosure(c.closure, m)
	if err != nil {
		internalf(nil, "closure %s: %v", c.closure.Class, err)
	}
	log.Debugf("closure %s: %d captures", c.closure.Class, len(c.closure.Vars))
	t.out.addClass(cls)
	return m
}

func (t *Translator) genLambda(n *ast.Lambda) StackValue {
	fn, ok := t.bc.DeclarationOf(n).(*binding.Function)
	if !ok {
		internalf(n, "lambda has no function declaration")
	}
	cl, ok := t.closures[n]
	if !ok {
		cl = t.newClosure(ClosureLambda, t.names.next(), n, fn, nil)
		cl.Continuation = takesContinuation(fn)
		t.genClosureBody(cl, fn, n.Body)
		t.closures[n] = cl
	}
	kt := t.bc.TypeOf(n)
	if kt == nil {
		kt = fn.Type()
	}
	return t.newClosureInstance(cl, kt, n)
}

// genLocalFunction compiles a local function to a closure class and keeps
// its instance in a local.
func (t *Translator) genLocalFunction(n *ast.FunDecl) StackValue {
	fn, ok := t.bc.DeclarationOf(n).(*binding.Function)
	if !ok {
		internalf(n, "local function %s has no declaration", n.Name)
	}
	cl, ok := t.closures[n]
	if !ok {
		cl = t.newClosure(ClosureLocalFunction, t.names.next(), n, fn, nil)
		cl.Continuation = takesContinuation(fn)
		t.u.registerLocalFunction(fn, cl)
		t.genClosureBody(cl, fn, n.Body)
		t.closures[n] = cl
	}
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		ct := vm.ObjectOf(cl.Class)
		put(t.newClosureInstance(cl, fn.Type(), n), ct, nil, s)
		slot := t.declare(fn, fn.Name, ct)
		vm.Store(s, slot, ct)
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// localFunctionValue returns the closure object of a local function.
func (t *Translator) localFunctionValue(fn *binding.Function, n ast.Node) StackValue {
	kt := fn.Type()
	if t.closure != nil && t.closure.Function == fn {
		return newLocal(0, vm.ObjectOf(t.closure.Class), kt)
	}
	if slot, st, ok := t.frame.Lookup(fn); ok {
		return newLocal(slot, st, kt)
	}
	if c, owner, recv := t.findCapture(fn); c != nil {
		return newField(owner, c.Field, c.Type, kt, false, recv)
	}
	internalf(n, "local function %s is not in scope", fn.Name)
	return nil
}

// ---------------------------------------------------------------------------
// Callable references
// ---------------------------------------------------------------------------

// genCallableRef compiles ::f, recv::f and Type::f to a closure class
// whose invoke calls the target. A bound receiver is evaluated once, when
// the reference is created.
func (t *Translator) genCallableRef(n *ast.CallableRef) StackValue {
	target := t.bc.DeclarationOf(n)
	fk := t.bc.TypeOf(n)
	if fk == nil || fk.Kind != types.KindFunction {
		internalf(n, "reference ::%s has no function type", n.Name)
	}
	call := t.bc.ResolvedCallOf(n)

	var bound StackValue
	var boundK *types.Type
	switch {
	case n.Receiver != nil && !isTypeReference(t.bc, n.Receiver):
		bound, boundK = t.gen(n.Receiver), t.typeOf(n.Receiver)
	case n.Receiver == nil && call != nil && call.Dispatch != nil:
		bound, boundK = t.receiverValue(call.Dispatch, n), receiverKType(call.Dispatch)
	case n.Receiver == nil && call != nil && call.Extension != nil:
		bound, boundK = t.receiverValue(call.Extension, n), receiverKType(call.Extension)
	}
	if fn, ok := target.(*binding.Function); ok && fn.Kind == binding.FunctionLocal {
		bound, boundK = t.localFunctionValue(fn, n), fn.Type()
	}

	fn := &binding.Function{
		Name:             n.Name,
		Kind:             binding.FunctionLambda,
		Return:           fk.Return,
		Suspend:          fk.Suspend,
		SuspendReference: isSuspendTarget(target),
		Parent:           t.fn,
	}
	for i, p := range fk.Params {
		fn.Params = append(fn.Params, &binding.Parameter{Name: "p" + strconv.Itoa(i), Type: p, Index: i, Function: fn})
	}
	cl := &Closure{Kind: ClosureReference, Class: t.names.next(), Function: fn}
	if bound != nil {
		c := &Capture{Field: "receiver", Type: types.Map(boundK), KType: boundK, bound: bound}
		cl.Vars = append(cl.Vars, c)
	}
	cl.Continuation = takesContinuation(fn)

	b := vm.NewBuilder()
	c := t.closureTranslator(cl, fn, b)
	c.genReferenceBody(n, target, call, cl)
	t.finishClosure(c, b, fn)
	return t.newClosureInstance(cl, fk, n)
}

func isTypeReference(bc binding.Context, e ast.Expr) bool {
	c, ok := bc.DeclarationOf(e).(*binding.Class)
	return ok && !c.IsSingleton()
}

func isSuspendTarget(d binding.Decl) bool {
	fn, ok := d.(*binding.Function)
	return ok && fn.Suspend
}

func receiverKType(r *binding.Receiver) *types.Type {
	if r.Type != nil {
		return r.Type
	}
	if r.Class != nil {
		return classKType(r.Class)
	}
	if r.Function != nil {
		return r.Function.Receiver
	}
	return types.Any
}

// genReferenceBody emits the invoke of a callable reference: the bound
// receiver or the first parameter receives the call, the parameters are
// passed through.
func (t *Translator) genReferenceBody(n *ast.CallableRef, target binding.Decl, call *binding.ResolvedCall, cl *Closure) {
	fn := t.fn
	args := make([]StackValue, len(fn.Params))
	for i, p := range fn.Params {
		slot, st, _ := t.frame.Lookup(p)
		args[i] = newLocal(slot, st, p.Type)
	}
	var recv StackValue
	if len(cl.Vars) > 0 {
		c := cl.Vars[0]
		recv = newField(cl.Class, c.Field, c.Type, c.KType, false, t.closureSelf())
	}

	rc := &binding.ResolvedCall{Callee: target}
	if call != nil {
		rc.TypeArgs, rc.Super = call.TypeArgs, call.Super
	}

	var v StackValue
	switch d := target.(type) {
	case *binding.Function:
		needsRecv := d.Receiver != nil || (d.Kind == binding.FunctionMember && !d.IsStatic() && d.Owner != nil && !d.Owner.IsSingleton())
		if d.Kind == binding.FunctionLocal {
			v = t.invokeWith(n, rc, recv, nil, args)
			break
		}
		if recv == nil && needsRecv {
			if len(args) == 0 {
				internalf(n, "unbound reference ::%s takes no receiver", d.Name)
			}
			recv, args = args[0], args[1:]
		}
		if recv == nil && d.Owner != nil && d.Owner.IsSingleton() && !d.IsStatic() {
			recv = t.staticInstance(d.Owner)
		}
		switch {
		case d.Kind == binding.FunctionConstructor:
			v = t.genConstructorCallWith(n, rc, d, args)
		case d.Receiver != nil && d.Kind == binding.FunctionMember && !d.IsStatic():
			internalf(n, "reference to member extension %s", d.Name)
		case d.Receiver != nil:
			v = t.invokeWith(n, rc, nil, recv, args)
		default:
			v = t.invokeWith(n, rc, recv, nil, args)
		}
	case *binding.Property:
		if recv == nil && (d.Receiver != nil || !d.IsStatic()) {
			if len(args) == 0 {
				internalf(n, "unbound reference ::%s takes no receiver", d.Name)
			}
			recv = args[0]
		}
		if recv == nil && d.Owner != nil && d.Owner.IsSingleton() {
			recv = t.staticInstance(d.Owner)
		}
		v = t.genPropertyRef(n, d, rc, recv)
	default:
		internalf(n, "reference ::%s resolves to %T", n.Name, target)
	}
	put(v, t.ret, t.retK, t.s)
	vm.Return(t.s, t.ret)
}

// ---------------------------------------------------------------------------
// Local classes and object expressions
// ---------------------------------------------------------------------------

// genLocalClass compiles a class declared in a function body. Its
// constructor takes the captures ahead of the declared parameters.
func (t *Translator) genLocalClass(n *ast.ClassDecl) StackValue {
	cl := t.localClassClosure(n)
	t.u.compileLocalClass(t, n, cl)
	return unitValue()
}

func (t *Translator) localClassClosure(n *ast.ClassDecl) *Closure {
	cls, ok := t.bc.DeclarationOf(n).(*binding.Class)
	if !ok {
		internalf(n, "class %s has no declaration", n.Name)
	}
	cl := t.newClosure(ClosureClass, cls.Name, n, nil, cls)
	if cls.SuperClass != nil {
		cl.Super = t.u.localClass(cls.SuperClass)
	}
	t.u.registerLocalClass(cls, cl)
	return cl
}

// genObjectLiteral compiles an object expression and creates its only
// instance.
func (t *Translator) genObjectLiteral(n *ast.ObjectLit) StackValue {
	cl := t.localClassClosure(n.Decl)
	t.u.compileLocalClass(t, n.Decl, cl)
	ct := vm.ObjectOf(cl.Class)
	kt := t.bc.TypeOf(n)
	if kt == nil {
		kt = classKType(cl.Owner)
	}
	return coerced(ct, kt, func(s vm.Sink) {
		ops, ts := t.captureOperands(cl, n)
		vals, release := t.prepareOperands(ops, nil)
		vm.New(s, cl.Class)
		putOperands(ops, vals, s)
		release()
		desc := vm.MethodType{Params: ts, Return: vm.VoidType}.Descriptor()
		s.MethodInsn(vm.OpINVOKESPECIAL, cl.Class, "<init>", desc, false)
	})
}

// ---------------------------------------------------------------------------
// Default closure classes
// ---------------------------------------------------------------------------

const (
	lambdaClass        = "kotlin/jvm/internal/Lambda"
	suspendLambdaClass = "kotlin/coroutines/jvm/internal/SuspendLambda"
)

// DefaultClosures generates one class per closure: a Lambda subclass
// implementing FunctionN with a field per capture, a constructor storing
// them, the specific invoke and an erased invoke bridge.
type DefaultClosures struct{}

func (DefaultClosures) GenerateClosure(cl *Closure, invoke *vm.Method) (*vm.Class, error) {
	fn := cl.Function
	owner, arity := functionClass(fn.Type())
	super := lambdaClass
	if fn.Suspend {
		super = suspendLambdaClass
	}
	c := &vm.Class{Name: cl.Class, Super: super, Interfaces: []string{owner}}
	if cl.OuterThis != nil {
		c.Fields = append(c.Fields, vm.Field{Name: "this$0", Type: thisType(cl.OuterThis)})
	}
	if cl.ReceiverOf != nil {
		c.Fields = append(c.Fields, vm.Field{Name: "$receiver", Type: types.Map(cl.ReceiverOf.Receiver)})
	}
	for _, v := range cl.Vars {
		c.Fields = append(c.Fields, vm.Field{Name: v.Field, Type: v.Type})
	}

	ctor, err := closureConstructor(cl, c, super, arity)
	if err != nil {
		return nil, err
	}
	c.AddMethod(ctor)
	c.AddMethod(invoke)
	bridge, err := closureBridge(cl, invoke, arity)
	if err != nil {
		return nil, err
	}
	if bridge != nil {
		c.AddMethod(bridge)
	}
	return c, nil
}

// closureConstructor stores each constructor argument into its field, in
// field order, after calling the superclass constructor with the arity.
func closureConstructor(cl *Closure, c *vm.Class, super string, arity int) (*vm.Method, error) {
	b := vm.NewBuilder()
	params := cl.constructorParams()
	b.VarInsn(vm.OpALOAD, 0)
	vm.IConst(b, int32(arity))
	if cl.Continuation {
		slot := 1
		for _, p := range params[:len(params)-1] {
			slot += p.Size()
		}
		b.VarInsn(vm.OpALOAD, slot)
		b.MethodInsn(vm.OpINVOKESPECIAL, super, "<init>", "(ILkotlin/coroutines/Continuation;)V", false)
	} else if super == suspendLambdaClass {
		b.Insn(vm.OpACONST_NULL)
		b.MethodInsn(vm.OpINVOKESPECIAL, super, "<init>", "(ILkotlin/coroutines/Continuation;)V", false)
	} else {
		b.MethodInsn(vm.OpINVOKESPECIAL, super, "<init>", "(I)V", false)
	}
	slot := 1
	for i, f := range c.Fields {
		b.VarInsn(vm.OpALOAD, 0)
		vm.Load(b, slot, params[i])
		b.FieldInsn(vm.OpPUTFIELD, c.Name, f.Name, f.Type)
		slot += params[i].Size()
	}
	b.Insn(vm.OpRETURN)
	if cl.Continuation {
		slot++
	}
	desc := vm.MethodType{Params: params, Return: vm.VoidType}.Descriptor()
	return b.Method("<init>", desc, false, slot)
}

// closureBridge implements the erased FunctionN.invoke by unboxing the
// arguments, calling the specific invoke and boxing its result. It is nil
// when the specific invoke is already erased.
func closureBridge(cl *Closure, invoke *vm.Method, arity int) (*vm.Method, error) {
	erased := make([]vm.Type, arity)
	for i := range erased {
		erased[i] = vm.ObjectType
	}
	et := vm.MethodType{Params: erased, Return: vm.ObjectType}
	if et.Descriptor() == invoke.Desc {
		return nil, nil
	}
	fn := cl.Function
	var kts []*types.Type
	if fn.Receiver != nil {
		kts = append(kts, fn.Receiver)
	}
	for _, p := range fn.Params {
		kts = append(kts, p.Type)
	}
	if fn.Suspend {
		kts = append(kts, nil)
	}
	mt := invoke.Signature()
	b := vm.NewBuilder()
	b.VarInsn(vm.OpALOAD, 0)
	for i, pt := range mt.Params {
		b.VarInsn(vm.OpALOAD, i+1)
		coerce(vm.ObjectType, nil, pt, kts[i], b)
	}
	b.MethodInsn(vm.OpINVOKEVIRTUAL, cl.Class, "invoke", invoke.Desc, false)
	retK := fn.Return
	if fn.Suspend {
		retK = types.Nullable(types.Any)
	}
	coerce(mt.Return, retK, vm.ObjectType, types.Nullable(types.Any), b)
	b.Insn(vm.OpARETURN)
	return b.Method("invoke", et.Descriptor(), false, arity+1)
}

// sortedKeys returns the keys of a string set in order.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
