package compiler

import (
	"strconv"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Translator: typed syntax tree to instructions, one method body at a time
// ---------------------------------------------------------------------------

// Translator generates the body of one method. Nested callables get their
// own Translator sharing the unit state.
type Translator struct {
	u     *unitState
	bc    binding.Context
	cfg   Config
	s     vm.Sink
	frame *FrameMap
	ctx   *Context

	fn        *binding.Function
	className string // class that will hold the generated method
	ret       vm.Type
	retK      *types.Type

	blocks    []*block
	scopes    []*scope
	cache     map[ast.Expr]StackValue
	shared    map[binding.Decl]bool
	delegates map[binding.Decl]*delegateInfo
	contSlot  int
	closure   *Closure
	closures  map[ast.Node]*Closure // by lambda or local function, for replicated finally bodies
	reified   map[string]bool
	names     *nameCounter
	out       *jobOutput
}

// thisKey, receiverKey, continuationKey and delegateKey identify implicit
// locals.
type (
	thisKey         struct{}
	receiverKey     struct{ fn *binding.Function }
	continuationKey struct{}
	delegateKey     struct{ v binding.Decl }
)

// nameCounter names the synthetic classes of one top-level declaration:
// prefix$1, prefix$2 and so on.
type nameCounter struct {
	prefix string
	n      int
}

func (c *nameCounter) next() string {
	c.n++
	return c.prefix + "$" + strconv.Itoa(c.n)
}

func newTranslator(u *unitState, ctx *Context, fn *binding.Function, className string, s vm.Sink, names *nameCounter) *Translator {
	return &Translator{
		u:         u,
		bc:        u.bc,
		cfg:       u.cfg,
		s:         s,
		frame:     NewFrameMap(),
		ctx:       ctx,
		fn:        fn,
		className: className,
		ret:       vm.VoidType,
		retK:      types.Unit,
		cache:     make(map[ast.Expr]StackValue),
		shared:    make(map[binding.Decl]bool),
		delegates: make(map[binding.Decl]*delegateInfo),
		closures:  make(map[ast.Node]*Closure),
		contSlot:  -1,
		reified:   make(map[string]bool),
		names:     names,
	}
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// typeOf returns the source type of e after smart casts.
func (t *Translator) typeOf(e ast.Expr) *types.Type {
	if sc := t.bc.SmartCastOf(e); sc != nil {
		return sc
	}
	if kt := t.bc.TypeOf(e); kt != nil {
		return kt
	}
	if b, ok := e.(*ast.Block); ok && len(b.Stmts) > 0 {
		return t.typeOf(b.Stmts[len(b.Stmts)-1])
	}
	return types.Unit
}

// valueType returns the machine and source types of the value of e.
// Unit and Nothing values are void.
func (t *Translator) valueType(e ast.Expr) (vm.Type, *types.Type) {
	kt := t.typeOf(e)
	return valueTypeOf(kt), kt
}

func valueTypeOf(kt *types.Type) vm.Type {
	if kt == nil || (!kt.Nullable && (kt.IsUnit() || kt.IsNothing())) {
		return vm.VoidType
	}
	return types.Map(kt)
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// gen returns the value of e. Nothing is emitted until the value is put.
func (t *Translator) gen(e ast.Expr) StackValue {
	if v, ok := t.cache[e]; ok {
		return v
	}
	v := t.genNode(e)
	if sc := t.bc.SmartCastOf(e); sc != nil && !v.KType().Equal(sc) {
		v = t.smartCast(v, sc)
	}
	return v
}

// smartCast narrows v to the type its use site proved.
func (t *Translator) smartCast(v StackValue, sc *types.Type) StackValue {
	st := types.Map(sc)
	return newOperation(st, sc, func(to vm.Type, toK *types.Type, s vm.Sink) {
		put(v, st, sc, s)
		coerce(st, sc, to, toK, s)
	})
}

func (t *Translator) genNode(e ast.Expr) StackValue {
	switch e.(type) {
	case *ast.Const, *ast.Template, *ast.Block, *ast.Lambda, *ast.VarDecl, *ast.Destructure,
		*ast.FunDecl, *ast.ClassDecl, *ast.ObjectLit:
	default:
		if c, ok := t.bc.ConstantOf(e); ok {
			vt, kt := t.valueType(e)
			return newConstant(c, vt, kt)
		}
	}

	switch n := e.(type) {
	case *ast.Const:
		return t.genConst(n)
	case *ast.Template:
		return t.genTemplate(n)
	case *ast.Name:
		return t.genName(n)
	case *ast.This:
		return t.genThisExpr(n)
	case *ast.Binary:
		return t.genBinary(n)
	case *ast.Unary:
		return t.genUnary(n)
	case *ast.Postfix:
		return t.genPostfix(n)
	case *ast.Assign:
		return t.genAssign(n)
	case *ast.Is:
		return t.genIs(n)
	case *ast.As:
		return t.genAs(n)
	case *ast.Call:
		return t.genCall(n, nil)
	case *ast.Dot:
		return t.genDot(n)
	case *ast.Index:
		return t.genIndex(n)
	case *ast.CallableRef:
		return t.genCallableRef(n)
	case *ast.Block:
		return t.genBlock(n)
	case *ast.If:
		return t.genIf(n)
	case *ast.When:
		return t.genWhen(n)
	case *ast.While:
		return t.genWhile(n)
	case *ast.DoWhile:
		return t.genDoWhile(n)
	case *ast.For:
		return t.genFor(n)
	case *ast.Break:
		return t.genBreak(n)
	case *ast.Continue:
		return t.genContinue(n)
	case *ast.Return:
		return t.genReturn(n)
	case *ast.Throw:
		return t.genThrow(n)
	case *ast.Try:
		return t.genTry(n)
	case *ast.VarDecl:
		return t.genVarDecl(n)
	case *ast.Destructure:
		return t.genDestructure(n)
	case *ast.FunDecl:
		return t.genLocalFunction(n)
	case *ast.Lambda:
		return t.genLambda(n)
	case *ast.ClassDecl:
		return t.genLocalClass(n)
	case *ast.ObjectLit:
		return t.genObjectLiteral(n)
	}
	internalf(e, "unsupported node %T", e)
	return nil
}

// put emits e as a value of type vt.
func (t *Translator) put(e ast.Expr, vt vm.Type, kt *types.Type) {
	put(t.gen(e), vt, kt, t.s)
}

// putValue emits e as its own value type and returns it.
func (t *Translator) putValue(e ast.Expr) (vm.Type, *types.Type) {
	v := t.gen(e)
	vt, kt := t.valueType(e)
	if vt.Sort == vm.SortVoid && v.Type().Sort != vm.SortVoid {
		vt, kt = v.Type(), v.KType()
	}
	put(v, vt, kt, t.s)
	return vt, kt
}

// genStatement emits e for its side effects only.
func (t *Translator) genStatement(e ast.Expr) {
	t.lineNumber(e)
	put(t.gen(e), vm.VoidType, nil, t.s)
}

func (t *Translator) lineNumber(n ast.Node) {
	if !t.cfg.LineNumbers || n == nil {
		return
	}
	if line := n.Span().Start.Line; line > 0 {
		t.s.LineNumber(line)
	}
}

// ---------------------------------------------------------------------------
// Scopes and locals
// ---------------------------------------------------------------------------

type scope struct {
	mark int
	vars []scopeVar
}

type scopeVar struct {
	id    any
	name  string
	t     vm.Type
	start vm.Label
}

func (t *Translator) enterScope() *scope {
	sc := &scope{mark: t.frame.Mark()}
	t.scopes = append(t.scopes, sc)
	return sc
}

// leaveScope frees the locals declared since enterScope and records their
// live ranges.
func (t *Translator) leaveScope(sc *scope) {
	n := len(t.scopes)
	if n == 0 || t.scopes[n-1] != sc {
		internalf(nil, "scope stack: leaving a scope that is not innermost")
	}
	t.scopes = t.scopes[:n-1]
	end := t.s.NewLabel()
	t.s.Mark(end)
	vars := make(map[any]scopeVar, len(sc.vars))
	for _, v := range sc.vars {
		vars[v.id] = v
	}
	t.frame.ResetTo(sc.mark, func(id any, slot int, vt vm.Type) {
		if _, ok := id.(tempKey); ok {
			internalf(nil, "frame: scope left while %v (slot %d) is still held", id, slot)
		}
		if v, ok := vars[id]; ok && v.name != "" {
			t.s.LocalVariable(v.name, v.t, v.start, end, slot)
		}
	})
}

// declare allocates a named local in the innermost scope.
func (t *Translator) declare(id any, name string, vt vm.Type) int {
	slot, begin := t.reserve(id, name, vt)
	begin()
	return slot
}

// reserve allocates a named local whose range starts when begin is
// called.
func (t *Translator) reserve(id any, name string, vt vm.Type) (int, func()) {
	slot := t.frame.Enter(id, vt)
	start := t.s.NewLabel()
	if n := len(t.scopes); n > 0 {
		sc := t.scopes[n-1]
		sc.vars = append(sc.vars, scopeVar{id: id, name: name, t: vt, start: start})
	}
	return slot, func() { t.s.Mark(start) }
}

// storageType returns the slot type of a local: Ref cells for shared
// variables.
func (t *Translator) storageType(d binding.Decl, kt *types.Type) vm.Type {
	if t.shared[d] {
		ref, _ := refCell(types.Map(kt))
		return ref
	}
	return types.Map(kt)
}

// declareVariable allocates the slot of v, creating its Ref cell when v is
// shared.
func (t *Translator) declareVariable(v binding.Decl, name string, kt *types.Type) StackValue {
	return t.reserveVariable(v, name, kt)()
}

// reserveVariable allocates the slot of v. The returned begin starts its
// range, creates the Ref cell of a shared v and returns its storage.
func (t *Translator) reserveVariable(v binding.Decl, name string, kt *types.Type) func() StackValue {
	st := t.storageType(v, kt)
	slot, mark := t.reserve(v, name, st)
	return func() StackValue {
		mark()
		if t.shared[v] {
			vm.New(t.s, st.Name)
			t.s.MethodInsn(vm.OpINVOKESPECIAL, st.Name, "<init>", "()V", false)
			vm.Store(t.s, slot, st)
		}
		return t.localValue(v, nil)
	}
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (t *Translator) genConst(n *ast.Const) StackValue {
	kt := t.bc.TypeOf(n)
	if kt == nil {
		kt = constType(n.Value)
	}
	if n.Value == nil {
		return newConstant(nil, vm.ObjectType, kt)
	}
	return newConstant(n.Value, types.Map(kt), kt)
}

func constType(v any) *types.Type {
	switch v.(type) {
	case bool:
		return types.Boolean
	case int32:
		return types.Int
	case int64:
		return types.Long
	case float32:
		return types.Float
	case float64:
		return types.Double
	case string:
		return types.String
	}
	return types.Nullable(types.Nothing)
}

const stringBuilder = "java/lang/StringBuilder"

// genTemplate concatenates the parts with a StringBuilder. A single
// string part is returned as is.
func (t *Translator) genTemplate(n *ast.Template) StackValue {
	if len(n.Parts) == 1 {
		if c, ok := n.Parts[0].(*ast.Const); ok {
			if str, ok := c.Value.(string); ok {
				return newConstant(str, vm.StringType, types.String)
			}
		}
	}
	return coerced(vm.StringType, types.String, func(s vm.Sink) {
		vals, release := t.operandValues(n.Parts)
		vm.New(s, stringBuilder)
		s.MethodInsn(vm.OpINVOKESPECIAL, stringBuilder, "<init>", "()V", false)
		for i, v := range vals {
			at := appendType(t.typeOf(n.Parts[i]), v)
			put(v, at, nil, s)
			s.MethodInsn(vm.OpINVOKEVIRTUAL, stringBuilder, "append", "("+at.Descriptor()+")Ljava/lang/StringBuilder;", false)
		}
		s.MethodInsn(vm.OpINVOKEVIRTUAL, stringBuilder, "toString", "()Ljava/lang/String;", false)
		release()
	})
}

// appendType picks the StringBuilder.append overload for a part.
func appendType(kt *types.Type, v StackValue) vm.Type {
	vt := v.Type()
	switch {
	case kt != nil && kt.Kind == types.KindString && !kt.Nullable:
		return vm.StringType
	case vt.Sort == vm.SortChar:
		return vm.CharType
	case vt.Sort == vm.SortBoolean:
		return vm.BooleanType
	case vt.Sort == vm.SortLong, vt.Sort == vm.SortFloat, vt.Sort == vm.SortDouble:
		return vt
	case vt.IsIntLike() && (kt == nil || !kt.IsInline()):
		return vm.IntType
	}
	return vm.ObjectType
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func (t *Translator) genBlock(n *ast.Block) StackValue {
	vt, kt := t.valueType(n)
	return newOperation(vt, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		t.genBlockInto(n, to, toK)
	})
}

// genBlockInto emits the statements of n and leaves the last one's value
// as type to.
func (t *Translator) genBlockInto(n *ast.Block, to vm.Type, toK *types.Type) {
	sc := t.enterScope()
	for i, st := range n.Stmts {
		if i < len(n.Stmts)-1 {
			t.genStatement(st)
			continue
		}
		t.lineNumber(st)
		put(t.gen(st), to, toK, t.s)
	}
	if len(n.Stmts) == 0 {
		coerce(vm.VoidType, types.Unit, to, toK, t.s)
	}
	t.leaveScope(sc)
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

func (t *Translator) genName(n *ast.Name) StackValue {
	switch d := t.bc.DeclarationOf(n).(type) {
	case *binding.Variable, *binding.Parameter:
		return t.localValue(d, n)
	case *binding.Property:
		return t.genPropertyRef(n, d, t.bc.ResolvedCallOf(n), nil)
	case *binding.Class:
		return t.genObject(d)
	case *binding.EnumEntry:
		et := vm.ObjectOf(d.Class.Name)
		return newField(d.Class.Name, d.Name, et, d.Class.Type, true, nil)
	case *binding.Function:
		if d.Kind == binding.FunctionLocal {
			return t.localFunctionValue(d, n)
		}
		internalf(n, "function %s used as a value", d.Name)
	case nil:
		internalf(n, "unresolved name %s", n.Ident)
	default:
		internalf(n, "unexpected declaration %T for %s", d, n.Ident)
	}
	return nil
}

// localValue returns the storage of a variable or parameter: a slot of
// this frame, or a field of the closure or local class capturing it.
func (t *Translator) localValue(d binding.Decl, n ast.Node) StackValue {
	kt := declType(d)
	vt := types.Map(kt)
	if info, ok := t.delegates[d]; ok {
		return t.delegatedValue(d, kt, info, newLocal(info.slot, info.t, info.kt))
	}
	if slot, st, ok := t.frame.Lookup(d); ok {
		if t.shared[d] {
			return newShared(vt, kt, func(s vm.Sink) { vm.Load(s, slot, st) })
		}
		if v, ok := d.(*binding.Variable); ok && v.Lateinit {
			return &lateinitLocal{local{valueBase{vt, kt}, slot}, v.Name}
		}
		return newLocal(slot, vt, kt)
	}
	if c, owner, recv := t.findCapture(d); c != nil {
		if c.Delegate != nil {
			return t.delegatedValue(d, kt, c.Delegate, newField(owner, c.Field, c.Type, c.Delegate.kt, false, recv))
		}
		if c.Shared {
			return newShared(vt, kt, func(s vm.Sink) {
				put(recv, vm.ObjectOf(owner), nil, s)
				s.FieldInsn(vm.OpGETFIELD, owner, c.Field, c.Type)
			})
		}
		return newField(owner, c.Field, c.Type, kt, false, recv)
	}
	internalf(n, "no storage for %s", d.DeclName())
	return nil
}

func declType(d binding.Decl) *types.Type {
	switch x := d.(type) {
	case *binding.Variable:
		return x.Type
	case *binding.Parameter:
		return x.Type
	case *binding.Function:
		return x.Type()
	}
	return types.Any
}

// ---------------------------------------------------------------------------
// Local declarations
// ---------------------------------------------------------------------------

func (t *Translator) genVarDecl(n *ast.VarDecl) StackValue {
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		v, ok := t.bc.DeclarationOf(n).(*binding.Variable)
		if !ok {
			internalf(n, "variable %s has no declaration", n.Name)
		}
		if n.Delegate != nil {
			t.declareDelegated(n, v)
		} else {
			// The initializer is evaluated before the variable comes into
			// scope so it cannot observe its own slot.
			var init StackValue
			if n.Init != nil {
				init = t.gen(n.Init)
			}
			if init != nil && !t.shared[v] {
				put(init, types.Map(v.Type), v.Type, s)
				slot := t.declare(v, v.Name, types.Map(v.Type))
				vm.Store(s, slot, types.Map(v.Type))
			} else {
				target := t.declareVariable(v, v.Name, v.Type)
				if init != nil {
					store(target, init, s)
				} else if !t.shared[v] {
					slot, st, _ := t.frame.Lookup(v)
					vm.PushDefault(s, st)
					vm.Store(s, slot, st)
				}
			}
		}
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// genDestructure evaluates the initializer once into a temporary and binds
// each named position through its componentN function.
func (t *Translator) genDestructure(n *ast.Destructure) StackValue {
	return newOperation(vm.VoidType, types.Unit, func(to vm.Type, toK *types.Type, s vm.Sink) {
		comps := t.declareComponents(n.Vars)
		st, sk := t.putValue(n.Init)
		slot := t.frame.EnterTemp(st)
		vm.Store(s, slot, st)
		t.bindComponents(n.Vars, comps, newLocal(slot, st, sk))
		t.frame.LeaveTemp(st)
		coerce(vm.VoidType, types.Unit, to, toK, s)
	})
}

// component is a destructured variable whose slot is reserved.
type component struct {
	v     *binding.Variable
	begin func() StackValue
}

// declareComponents reserves the slots of the variables of a
// destructuring declaration; skipped positions have no component.
func (t *Translator) declareComponents(vars []*ast.VarDecl) []*component {
	comps := make([]*component, len(vars))
	for i, vd := range vars {
		if vd == nil || vd.Name == "_" {
			continue
		}
		v, ok := t.bc.DeclarationOf(vd).(*binding.Variable)
		if !ok {
			internalf(vd, "destructured %s has no declaration", vd.Name)
		}
		comps[i] = &component{v: v, begin: t.reserveVariable(v, v.Name, v.Type)}
	}
	return comps
}

// bindComponents stores componentN of source into each reserved variable,
// starting its range at the store.
func (t *Translator) bindComponents(vars []*ast.VarDecl, comps []*component, source StackValue) {
	s := t.s
	for i, vd := range vars {
		c := comps[i]
		if c == nil {
			continue
		}
		call := t.bc.ResolvedCallOf(vd)
		if call == nil || call.Function() == nil {
			internalf(vd, "component call of %s is unresolved", vd.Name)
		}
		value := t.invoke(vd, call, source, nil)
		if t.shared[c.v] {
			store(c.begin(), value, s)
			continue
		}
		vt := types.Map(c.v.Type)
		put(value, vt, c.v.Type, s)
		c.begin()
		slot, _, _ := t.frame.Lookup(c.v)
		vm.Store(s, slot, vt)
	}
}
