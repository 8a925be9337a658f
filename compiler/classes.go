package compiler

import (
	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// Planning: class layout and one job per method body
// ---------------------------------------------------------------------------

const (
	objectClass = "java/lang/Object"
	enumClass   = "java/lang/Enum"
)

// planner lays out the classes of a file (or of one local class) and
// queues a job for every method whose body needs translating. Layout that
// needs no translation, such as accessors, is generated directly.
type planner struct {
	u       *unitState
	file    *ast.File
	classes []*vm.Class
	byName  map[string]*vm.Class
	jobs    []*job
	names   *prefixNames
}

func newPlanner(u *unitState, file *ast.File) *planner {
	return &planner{
		u:      u,
		file:   file,
		byName: make(map[string]*vm.Class),
		names:  &prefixNames{used: make(map[string]int)},
	}
}

func (p *planner) add(name string, node ast.Node, run func(out *jobOutput)) {
	p.jobs = append(p.jobs, &job{name: name, node: node, run: run})
}

func (p *planner) addClass(c *vm.Class) {
	p.classes = append(p.classes, c)
	p.byName[c.Name] = c
}

// translator starts a Translator for one method of owner.
func (p *planner) translator(out *jobOutput, ctx *Context, fn *binding.Function, owner string, b vm.Sink, names *nameCounter) *Translator {
	t := newTranslator(p.u, ctx, fn, owner, b, names)
	t.out = out
	return t
}

func (p *planner) declare(owner, key string) {
	p.u.mu.Lock()
	defer p.u.mu.Unlock()
	m := p.u.declared[owner]
	if m == nil {
		m = make(map[string]bool)
		p.u.declared[owner] = m
	}
	m[key] = true
}

func (p *planner) declares(owner, key string) bool {
	p.u.mu.Lock()
	defer p.u.mu.Unlock()
	return p.u.declared[owner][key]
}

func (p *planner) classNamed(name string) *binding.Class {
	p.u.mu.Lock()
	defer p.u.mu.Unlock()
	return p.u.classes[name]
}

func (p *planner) constructorNamed(name string) *binding.Function {
	p.u.mu.Lock()
	defer p.u.mu.Unlock()
	return p.u.ctors[name]
}

// planFile lays out the facade and every class of the file.
func (p *planner) planFile() (err error) {
	defer recoverInternal(p.file, &err)
	f := p.file
	facade := &vm.Class{Name: f.Facade, Super: objectClass}
	p.addClass(facade)

	var inits []*ast.PropertyDecl
	for _, pd := range f.Props {
		prop := p.property(pd)
		if prop.Receiver != nil {
			p.planExtensionGetter(pd, prop, nil, f.Facade, nil)
			continue
		}
		facade.Fields = append(facade.Fields, vm.Field{Name: prop.Name, Type: types.Map(prop.Type), Static: true})
		p.planAccessors(facade, prop)
		if pd.Init != nil {
			inits = append(inits, pd)
		}
	}
	if len(inits) > 0 {
		p.planFacadeInit(facade, inits)
	}
	for _, fd := range f.Funcs {
		fn := p.function(fd)
		p.planFunction(fd, fn, nil, f.Facade, nil)
	}
	for _, cd := range f.Classes {
		p.planClass(cd, nil, nil, nil)
	}
	p.addForwarders()
	return nil
}

func (p *planner) property(pd *ast.PropertyDecl) *binding.Property {
	prop, ok := p.u.bc.DeclarationOf(pd).(*binding.Property)
	if !ok {
		internalf(pd, "property %s has no declaration", pd.Name)
	}
	return prop
}

func (p *planner) function(fd *ast.FunDecl) *binding.Function {
	fn, ok := p.u.bc.DeclarationOf(fd).(*binding.Function)
	if !ok {
		internalf(fd, "function %s has no declaration", fd.Name)
	}
	return fn
}

// planFacadeInit initializes top-level properties in the facade's static
// initializer, in declaration order.
func (p *planner) planFacadeInit(facade *vm.Class, inits []*ast.PropertyDecl) {
	fn := &binding.Function{Name: "<clinit>", Kind: binding.FunctionTopLevel, Facade: facade.Name, Return: types.Unit}
	names := p.names.counter(facade.Name, "")
	p.add(facade.Name+".<clinit>", p.file, func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, (*Context)(nil).intoMethod(fn, true), fn, facade.Name, b, names)
		t.beginMethod(vm.VoidType, fn)
		for _, pd := range inits {
			prop := p.property(pd)
			t.markShared(pd.Init)
			t.lineNumber(pd)
			vt := types.Map(prop.Type)
			t.put(pd.Init, vt, prop.Type)
			b.FieldInsn(vm.OpPUTSTATIC, facade.Name, prop.Name, vt)
		}
		b.Insn(vm.OpRETURN)
		out.addMethod(facade.Name, t.endMethod(b, "<clinit>", "()V", true))
	})
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// memberLayout returns how a function body is compiled: its method name,
// whether it is static and the type of the instance in slot 0 (void when
// there is none).
func memberLayout(fn *binding.Function, cls *binding.Class) (name string, static bool, thisT vm.Type) {
	switch {
	case cls == nil || fn.IsStatic():
		return fn.Name, true, vm.VoidType
	case cls.Kind == binding.ClassInline:
		return fn.Name + "-impl", true, thisType(cls)
	case cls.Kind == binding.ClassInterface:
		return fn.Name, true, vm.ObjectOf(cls.Name)
	}
	return fn.Name, false, vm.ObjectOf(cls.Name)
}

// planFunction queues the body of a top-level or member function and its
// $default stub. Abstract functions get no method.
func (p *planner) planFunction(fd *ast.FunDecl, fn *binding.Function, cls *binding.Class, owner string, ctx *Context) {
	name, static, thisT := memberLayout(fn, cls)
	mt := fnType(fn)
	if cls != nil && !fn.IsStatic() {
		p.declare(owner, fn.Name+mt.Descriptor())
	}
	if fd.Body == nil {
		return
	}
	if static && thisT.Sort != vm.SortVoid {
		mt.Params = append([]vm.Type{thisT}, mt.Params...)
	}
	if cls != nil && cls.Kind == binding.ClassInterface && !fn.IsStatic() {
		p.u.mu.Lock()
		p.u.itfBodies[cls.Name] = append(p.u.itfBodies[cls.Name], fn)
		p.u.mu.Unlock()
	}
	// Instance bodies compiled as static methods still see this in slot 0.
	mctx := ctx.intoMethod(fn, thisT.Sort == vm.SortVoid)
	names := p.names.counter(owner, fn.Name)
	desc := mt.Descriptor()
	p.add(owner+"."+name, fd, func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, mctx, fn, owner, b, names)
		t.beginMethod(thisT, fn)
		t.markShared(fd.Body)
		t.genBody(fd.Body)
		out.addMethod(owner, t.endMethod(b, name, desc, static))
	})
	if fn.HasDefaults() {
		p.planDefaults(fd.Params, fn, owner, mctx, p.names.counter(owner, fn.Name+"$default"))
	}
}

// planDefaults queues the $default stub of fn: each parameter whose bit is
// set in the masks gets its default value, then the function is called.
func (p *planner) planDefaults(params []*ast.Param, fn *binding.Function, owner string, ctx *Context, names *nameCounter) {
	p.add(owner+"."+fn.Name+"$default", params[0], func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, ctx, fn, owner, b, names)
		target := t.methodFor(fn, false, false)
		stub := t.methodFor(fn, false, true)
		thisT := vm.VoidType
		if target.hasDispatch {
			thisT = target.dispT
		}
		extras := make([]vm.Type, maskCount(fn)+1)
		for i := range extras[:len(extras)-1] {
			extras[i] = vm.IntType
		}
		extras[len(extras)-1] = vm.ObjectType
		masks := t.beginMethod(thisT, fn, extras...)
		t.genDefaultValues(params, fn, masks)

		if thisT.Sort != vm.SortVoid {
			vm.Load(b, 0, thisT)
		}
		t.putParameters(fn)
		t.emitInvoke(fn, target, b)
		vm.Return(b, t.ret)
		out.addMethod(owner, t.endMethod(b, stub.name, stub.desc(), true))
	})
}

// genDefaultValues stores the default of every parameter whose mask bit
// is set. Defaults may read the parameters before them.
func (t *Translator) genDefaultValues(params []*ast.Param, fn *binding.Function, masks []int) {
	for i, bp := range fn.Params {
		if !bp.HasDefault || i >= len(params) || params[i].Default == nil {
			continue
		}
		skip := t.s.NewLabel()
		t.s.VarInsn(vm.OpILOAD, masks[i/32])
		vm.IConst(t.s, int32(1)<<(i%32))
		t.s.Insn(vm.OpIAND)
		t.s.JumpInsn(vm.OpIFEQ, skip)
		t.markShared(params[i].Default)
		slot, st, _ := t.frame.Lookup(bp)
		t.put(params[i].Default, st, bp.Type)
		vm.Store(t.s, slot, st)
		t.s.Mark(skip)
	}
}

// putParameters pushes the extension receiver and value parameters of fn
// from their slots.
func (t *Translator) putParameters(fn *binding.Function) {
	if fn.Receiver != nil {
		slot, st, _ := t.frame.Lookup(receiverKey{fn})
		vm.Load(t.s, slot, st)
	}
	for _, bp := range fn.Params {
		slot, st, _ := t.frame.Lookup(bp)
		vm.Load(t.s, slot, st)
	}
}

// planExtensionGetter queues the getter of an extension property; its
// initializer is the getter body.
func (p *planner) planExtensionGetter(pd *ast.PropertyDecl, prop *binding.Property, cls *binding.Class, owner string, ctx *Context) {
	fn := prop.Getter
	if fn == nil || pd.Init == nil {
		internalf(pd, "extension property %s has no getter", prop.Name)
	}
	static := cls == nil || cls.IsSingleton()
	thisT := vm.VoidType
	if !static {
		thisT = vm.ObjectOf(cls.Name)
	}
	name := "get" + capitalize(prop.Name)
	desc := vm.MethodType{Params: []vm.Type{types.Map(prop.Receiver)}, Return: types.MapReturn(prop.Type)}.Descriptor()
	mctx := ctx.intoMethod(fn, static)
	names := p.names.counter(owner, name)
	p.add(owner+"."+name, pd, func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, mctx, fn, owner, b, names)
		t.beginMethod(thisT, fn)
		t.markShared(pd.Init)
		t.genBody(pd.Init)
		out.addMethod(owner, t.endMethod(b, name, desc, static))
	})
}

// ---------------------------------------------------------------------------
// Property accessors
// ---------------------------------------------------------------------------

// planAccessors adds getX and setX around a backing field. Private
// properties are reached through their field or synthetic accessors.
func (p *planner) planAccessors(c *vm.Class, prop *binding.Property) {
	if prop.Private || prop.Receiver != nil {
		return
	}
	static := prop.IsStatic()
	vt := types.Map(prop.Type)
	var recv StackValue
	slot := 0
	if !static {
		recv = newLocal(0, vm.ObjectOf(c.Name), nil)
		slot = 1
	}
	f := newField(c.Name, prop.Name, vt, prop.Type, static, recv)
	var get StackValue = f
	if prop.Lateinit {
		get = &lateinitField{f, prop.Name}
	}

	b := vm.NewBuilder()
	put(get, vt, prop.Type, b)
	vm.Return(b, vt)
	c.AddMethod(mustMethod(b, "get"+capitalize(prop.Name), vm.MethodType{Return: vt}, static, slot))

	if !prop.Mutable {
		return
	}
	b = vm.NewBuilder()
	f.PutReceiver(b)
	vm.Load(b, slot, vt)
	f.StoreSelector(b)
	b.Insn(vm.OpRETURN)
	c.AddMethod(mustMethod(b, "set"+capitalize(prop.Name), vm.MethodType{Params: []vm.Type{vt}, Return: vm.VoidType}, static, slot+vt.Size()))
}

// mustMethod finalizes a method generated without a Translator.
func mustMethod(b *vm.Builder, name string, mt vm.MethodType, static bool, maxLocals int) *vm.Method {
	m, err := b.Method(name, mt.Descriptor(), static, maxLocals)
	if err != nil {
		internalf(nil, "%s: %v", name, err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func superName(cls *binding.Class) string {
	switch {
	case cls.Kind == binding.ClassEnum:
		return enumClass
	case cls.Super != "":
		return cls.Super
	}
	return objectClass
}

// planClass lays out one class declaration and its nested classes. cl is
// set for local classes and object expressions; outer is the vm class of
// the enclosing declaration.
func (p *planner) planClass(cd *ast.ClassDecl, parent *Context, cl *Closure, outer *vm.Class) {
	cls, ok := p.u.bc.DeclarationOf(cd).(*binding.Class)
	if !ok {
		internalf(cd, "class %s has no declaration", cd.Name)
	}
	p.u.mu.Lock()
	p.u.classes[cls.Name] = cls
	p.u.mu.Unlock()

	c := &vm.Class{Name: cls.Name, Super: superName(cls), Interfaces: append([]string(nil), cls.Interfaces...)}
	if cls.Outer != nil {
		c.Outer = cls.Outer.Name
	} else if outer != nil {
		c.Outer = outer.Name
	}
	p.addClass(c)
	ctx := classContext(parent, cls, cl)

	if cls.Kind == binding.ClassInterface {
		c.Super = objectClass
		for _, fd := range cd.Funcs {
			p.planFunction(fd, p.function(fd), cls, cls.Name, ctx)
		}
		for _, nested := range cd.Classes {
			p.planClass(nested, ctx, nil, c)
		}
		return
	}

	if cls.Inner && cls.Outer != nil {
		c.Fields = append(c.Fields, vm.Field{Name: "this$0", Type: thisType(cls.Outer)})
	}
	if cl != nil {
		c.Fields = append(c.Fields, closureFields(cl)...)
	}
	for _, e := range cls.Entries {
		c.Fields = append(c.Fields, vm.Field{Name: e.Name, Type: vm.ObjectOf(cls.Name), Static: true})
	}
	if cls.Kind == binding.ClassEnum {
		c.Fields = append(c.Fields, vm.Field{Name: "$VALUES", Type: vm.ArrayOf(vm.ObjectOf(cls.Name)), Static: true})
		p.planValues(c)
	}
	if cls.Kind == binding.ClassObject {
		c.Fields = append(c.Fields, vm.Field{Name: "INSTANCE", Type: vm.ObjectOf(cls.Name), Static: true})
	}

	if cls.Kind == binding.ClassInline {
		p.planInlineClass(cd, cls, c, ctx)
		return
	}

	for _, pd := range cd.Props {
		prop := p.property(pd)
		if prop.Receiver != nil {
			p.planExtensionGetter(pd, prop, cls, cls.Name, ctx)
			continue
		}
		c.Fields = append(c.Fields, vm.Field{Name: prop.Name, Type: types.Map(prop.Type), Static: prop.IsStatic()})
		p.planAccessors(c, prop)
	}

	ctor := p.constructorOf(cls, cd)
	p.planConstructor(cd, cls, ctor, ctx, cl)
	for _, fd := range cd.Funcs {
		p.planFunction(fd, p.function(fd), cls, cls.Name, ctx)
	}
	if cd.Companion != nil {
		comp, _ := p.u.bc.DeclarationOf(cd.Companion).(*binding.Class)
		if comp == nil {
			internalf(cd.Companion, "companion of %s has no declaration", cls.Name)
		}
		c.Fields = append(c.Fields, vm.Field{Name: "Companion", Type: vm.ObjectOf(comp.Name), Static: true})
		p.planClass(cd.Companion, ctx, nil, c)
	}
	p.planStaticInit(cd, cls, c, ctx)
	for _, nested := range cd.Classes {
		p.planClass(nested, ctx, nil, c)
	}
}

// closureFields lists the fields holding a local class's own captures.
func closureFields(cl *Closure) []vm.Field {
	var fs []vm.Field
	if cl.OuterThis != nil {
		fs = append(fs, vm.Field{Name: "this$0", Type: thisType(cl.OuterThis)})
	}
	if cl.ReceiverOf != nil {
		fs = append(fs, vm.Field{Name: "$receiver", Type: types.Map(cl.ReceiverOf.Receiver)})
	}
	for _, v := range cl.Vars {
		fs = append(fs, vm.Field{Name: v.Field, Type: v.Type})
	}
	return fs
}

// constructorOf returns the primary constructor of cls, synthesizing one
// without parameters when the class declares none.
func (p *planner) constructorOf(cls *binding.Class, cd *ast.ClassDecl) *binding.Function {
	var fn *binding.Function
	if len(cd.Params) > 0 {
		if bp, ok := p.u.bc.DeclarationOf(cd.Params[0]).(*binding.Parameter); ok {
			fn = bp.Function
		}
	}
	if fn == nil {
		fn = &binding.Function{Name: "<init>", Kind: binding.FunctionConstructor, Owner: cls, Return: types.Unit}
	}
	p.u.mu.Lock()
	p.u.ctors[cls.Name] = fn
	p.u.mu.Unlock()
	return fn
}

// prefixKey identifies the implicit leading constructor parameters.
type prefixKey struct{ n int }

// constructorPrefix returns the implicit leading parameters of a
// constructor: the name and ordinal of an enum entry, the outer instance
// of an inner class or the captures of a local class.
func constructorPrefix(cls *binding.Class, cl *Closure) []vm.Type {
	switch {
	case cls.Kind == binding.ClassEnum:
		return []vm.Type{vm.StringType, vm.IntType}
	case cl != nil:
		return cl.constructorParams()
	case cls.Inner && cls.Outer != nil:
		return []vm.Type{thisType(cls.Outer)}
	}
	return nil
}

// beginConstructor lays out this, the prefix and the value parameters.
func (t *Translator) beginConstructor(cls *binding.Class, fn *binding.Function, prefix []vm.Type, extras ...vm.Type) (pslots, xslots []int) {
	t.enterScope()
	t.declare(thisKey{}, "this", vm.ObjectOf(cls.Name))
	for i, x := range prefix {
		pslots = append(pslots, t.declare(prefixKey{i}, "", x))
	}
	for _, bp := range fn.Params {
		t.declare(bp, bp.Name, types.Map(bp.Type))
	}
	for i, x := range extras {
		xslots = append(xslots, t.declare(extraKey{i}, "", x))
	}
	t.ret, t.retK = vm.VoidType, types.Unit
	return pslots, xslots
}

// planConstructor queues the primary constructor: captured fields first,
// then the superclass constructor, property initializers and init blocks
// in that order.
func (p *planner) planConstructor(cd *ast.ClassDecl, cls *binding.Class, fn *binding.Function, ctx *Context, cl *Closure) {
	prefix := constructorPrefix(cls, cl)
	mt := fnType(fn)
	mt.Params = append(append([]vm.Type(nil), prefix...), mt.Params...)
	mctx := ctx.intoMethod(fn, false)
	names := p.names.counter(cls.Name, "<init>")
	desc := mt.Descriptor()

	p.add(cls.Name+".<init>", cd, func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, mctx, fn, cls.Name, b, names)
		pslots, _ := t.beginConstructor(cls, fn, prefix)
		for _, a := range cd.SuperArgs {
			t.markShared(a)
		}
		for _, pd := range cd.Props {
			if pd.Init != nil {
				t.markShared(pd.Init)
			}
		}
		for _, e := range cd.Init {
			t.markShared(e)
		}

		t.lineNumber(cd)
		used := t.storeCaptures(cls, cl, prefix, pslots)
		t.genSuperCall(cd, cls, prefix[used:], pslots[used:])
		for _, pd := range cd.Props {
			if pd.Init == nil {
				continue
			}
			prop := p.property(pd)
			if prop.Receiver != nil {
				continue
			}
			vt := types.Map(prop.Type)
			t.lineNumber(pd)
			if prop.IsStatic() {
				t.put(pd.Init, vt, prop.Type)
				b.FieldInsn(vm.OpPUTSTATIC, cls.Name, prop.Name, vt)
				continue
			}
			b.VarInsn(vm.OpALOAD, 0)
			t.put(pd.Init, vt, prop.Type)
			b.FieldInsn(vm.OpPUTFIELD, cls.Name, prop.Name, vt)
		}
		for _, e := range cd.Init {
			t.genStatement(e)
		}
		b.Insn(vm.OpRETURN)
		out.addMethod(cls.Name, t.endMethod(b, "<init>", desc, false))
	})

	if fn.HasDefaults() {
		p.planConstructorDefaults(cd, cls, fn, prefix, mctx, p.names.counter(cls.Name, "<init>$default"), desc)
	}
}

// storeCaptures stores the outer instance and captured values passed
// ahead of the declared parameters. It returns how many prefix slots it
// consumed; the rest belong to a local superclass.
func (t *Translator) storeCaptures(cls *binding.Class, cl *Closure, prefix []vm.Type, pslots []int) int {
	n := 0
	store := func(name string) {
		t.s.VarInsn(vm.OpALOAD, 0)
		vm.Load(t.s, pslots[n], prefix[n])
		t.s.FieldInsn(vm.OpPUTFIELD, cls.Name, name, prefix[n])
		n++
	}
	switch {
	case cls.Kind == binding.ClassEnum:
		return 0
	case cl != nil:
		if cl.OuterThis != nil {
			store("this$0")
		}
		if cl.ReceiverOf != nil {
			store("$receiver")
		}
		for _, v := range cl.Vars {
			store(v.Field)
		}
	case cls.Inner && cls.Outer != nil:
		store("this$0")
	}
	return n
}

// genSuperCall invokes the superclass constructor. Enum constructors pass
// the entry name and ordinal; a local superclass receives its captures
// from the remaining prefix.
func (t *Translator) genSuperCall(cd *ast.ClassDecl, cls *binding.Class, rest []vm.Type, rslots []int) {
	s := t.s
	super := superName(cls)
	s.VarInsn(vm.OpALOAD, 0)
	if cls.Kind == binding.ClassEnum {
		vm.Load(s, rslots[0], vm.StringType)
		vm.Load(s, rslots[1], vm.IntType)
		s.MethodInsn(vm.OpINVOKESPECIAL, enumClass, "<init>", "(Ljava/lang/String;I)V", false)
		return
	}

	var params []vm.Type
	sup := cls.SuperClass
	t.u.mu.Lock()
	if sup == nil {
		sup = t.u.classes[super]
	}
	var superFn *binding.Function
	if sup != nil {
		superFn = t.u.ctors[sup.Name]
	}
	t.u.mu.Unlock()
	if sup != nil && t.u.localClass(sup) != nil {
		for i, x := range rest {
			vm.Load(s, rslots[i], x)
		}
		params = append(params, rest...)
	} else if sup != nil && sup.Inner && sup.Outer != nil {
		ot := thisType(sup.Outer)
		if cls.Inner && cls.Outer == sup.Outer {
			s.VarInsn(vm.OpALOAD, 1)
		} else {
			put(t.genThis(sup.Outer, cd), ot, nil, s)
		}
		params = append(params, ot)
	}

	for i, a := range cd.SuperArgs {
		var vt vm.Type
		var kt *types.Type
		if superFn != nil && i < len(superFn.Params) {
			kt = superFn.Params[i].Type
			vt = types.Map(kt)
		} else {
			vt, kt = t.valueType(a)
		}
		t.put(a, vt, kt)
		params = append(params, vt)
	}
	desc := vm.MethodType{Params: params, Return: vm.VoidType}.Descriptor()
	s.MethodInsn(vm.OpINVOKESPECIAL, super, "<init>", desc, false)
}

// planConstructorDefaults queues the constructor overload taking masks
// and a marker: it fills in defaults and delegates to the primary
// constructor.
func (p *planner) planConstructorDefaults(cd *ast.ClassDecl, cls *binding.Class, fn *binding.Function, prefix []vm.Type, ctx *Context, names *nameCounter, primary string) {
	p.add(cls.Name+".<init>$default", cd, func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, ctx, fn, cls.Name, b, names)
		extras := make([]vm.Type, maskCount(fn)+1)
		for i := range extras[:len(extras)-1] {
			extras[i] = vm.IntType
		}
		extras[len(extras)-1] = vm.ObjectOf(ctorMarker)
		pslots, masks := t.beginConstructor(cls, fn, prefix, extras...)
		t.genDefaultValues(cd.Params, fn, masks)

		b.VarInsn(vm.OpALOAD, 0)
		for i, x := range prefix {
			vm.Load(b, pslots[i], x)
		}
		t.putParameters(fn)
		b.MethodInsn(vm.OpINVOKESPECIAL, cls.Name, "<init>", primary, false)
		b.Insn(vm.OpRETURN)

		mt := defaultsType(fnType(fn), fn)
		mt.Params = append(append([]vm.Type(nil), prefix...), mt.Params...)
		out.addMethod(cls.Name, t.endMethod(b, "<init>", mt.Descriptor(), false))
	})
}

// ---------------------------------------------------------------------------
// Static initialization: enum entries, singletons and companions
// ---------------------------------------------------------------------------

// planStaticInit queues <clinit> for classes that need one: enum entries
// and $VALUES, the INSTANCE of an object, the Companion of its outer
// class.
func (p *planner) planStaticInit(cd *ast.ClassDecl, cls *binding.Class, c *vm.Class, ctx *Context) {
	enum := cls.Kind == binding.ClassEnum && len(cd.Entries) > 0
	object := cls.Kind == binding.ClassObject
	companion := cd.Companion != nil
	ofCompanion := cls.Kind == binding.ClassCompanion && cls.Outer != nil
	if !enum && !object && !companion && !ofCompanion {
		return
	}
	fn := &binding.Function{Name: "<clinit>", Kind: binding.FunctionMember, Owner: cls, Static: true, Return: types.Unit}
	mctx := ctx.intoMethod(fn, true)
	names := p.names.counter(cls.Name, "")
	var ctor *binding.Function
	if enum {
		ctor = p.constructorNamed(cls.Name)
	}

	p.add(cls.Name+".<clinit>", cd, func(out *jobOutput) {
		b := vm.NewBuilder()
		t := p.translator(out, mctx, fn, cls.Name, b, names)
		t.beginMethod(vm.VoidType, fn)
		ct := vm.ObjectOf(cls.Name)
		if enum {
			for _, ed := range cd.Entries {
				t.genEnumEntry(ed, cls, ctor)
			}
			vm.IConst(b, int32(len(cd.Entries)))
			vm.NewArray(b, ct)
			for i, ed := range cd.Entries {
				b.Insn(vm.OpDUP)
				vm.IConst(b, int32(i))
				b.FieldInsn(vm.OpGETSTATIC, cls.Name, ed.Name, ct)
				b.Insn(vm.OpAASTORE)
			}
			b.FieldInsn(vm.OpPUTSTATIC, cls.Name, "$VALUES", vm.ArrayOf(ct))
		}
		if object {
			vm.New(b, cls.Name)
			b.MethodInsn(vm.OpINVOKESPECIAL, cls.Name, "<init>", "()V", false)
			b.FieldInsn(vm.OpPUTSTATIC, cls.Name, "INSTANCE", ct)
		}
		if companion {
			comp := p.u.bc.DeclarationOf(cd.Companion).(*binding.Class)
			vm.New(b, comp.Name)
			b.MethodInsn(vm.OpINVOKESPECIAL, comp.Name, "<init>", "()V", false)
			b.FieldInsn(vm.OpPUTSTATIC, cls.Name, "Companion", vm.ObjectOf(comp.Name))
		}
		if ofCompanion {
			// Touching the outer class creates the companion.
			b.FieldInsn(vm.OpGETSTATIC, cls.Outer.Name, "Companion", ct)
			b.Insn(vm.OpPOP)
		}
		b.Insn(vm.OpRETURN)
		out.addMethod(cls.Name, t.endMethod(b, "<clinit>", "()V", true))
	})
}

// genEnumEntry constructs one entry and stores it in its static field.
// Entries omitting trailing arguments use the defaults constructor.
func (t *Translator) genEnumEntry(ed *ast.EntryDecl, cls *binding.Class, ctor *binding.Function) {
	e, ok := t.bc.DeclarationOf(ed).(*binding.EnumEntry)
	if !ok {
		internalf(ed, "enum entry %s has no declaration", ed.Name)
	}
	s := t.s
	t.lineNumber(ed)
	vm.New(s, cls.Name)
	s.Ldc(e.Name)
	vm.IConst(s, int32(e.Ordinal))
	var masks []int32
	for i, bp := range ctor.Params {
		pt := types.Map(bp.Type)
		if i < len(ed.Args) {
			t.markShared(ed.Args[i])
			t.put(ed.Args[i], pt, bp.Type)
			continue
		}
		if !bp.HasDefault {
			internalf(ed, "entry %s has no value for %s", ed.Name, bp.Name)
		}
		if masks == nil {
			masks = make([]int32, maskCount(ctor))
		}
		masks[i/32] |= 1 << (i % 32)
		vm.PushDefault(s, pt)
	}
	mt := fnType(ctor)
	if masks != nil {
		mt = defaultsType(mt, ctor)
		for _, m := range masks {
			vm.IConst(s, m)
		}
		s.Insn(vm.OpACONST_NULL)
	}
	mt.Params = append([]vm.Type{vm.StringType, vm.IntType}, mt.Params...)
	s.MethodInsn(vm.OpINVOKESPECIAL, cls.Name, "<init>", mt.Descriptor(), false)
	s.FieldInsn(vm.OpPUTSTATIC, cls.Name, e.Name, vm.ObjectOf(cls.Name))
}

// planValues adds the static values() of an enum.
func (p *planner) planValues(c *vm.Class) {
	at := vm.ArrayOf(vm.ObjectOf(c.Name))
	b := vm.NewBuilder()
	b.FieldInsn(vm.OpGETSTATIC, c.Name, "$VALUES", at)
	b.Insn(vm.OpARETURN)
	c.AddMethod(mustMethod(b, "values", vm.MethodType{Return: at}, true, 0))
}

// ---------------------------------------------------------------------------
// Value classes
// ---------------------------------------------------------------------------

// planInlineClass lays out a value class: the boxed form holds the value
// in a single field, members are static -impl methods over the unboxed
// value.
func (p *planner) planInlineClass(cd *ast.ClassDecl, cls *binding.Class, c *vm.Class, ctx *Context) {
	u := thisType(cls)
	field := ""
	if len(cd.Props) > 0 {
		field = cd.Props[0].Name
	} else if len(cd.Params) > 0 {
		field = cd.Params[0].Name
	}
	if field == "" {
		internalf(cd, "value class %s has no value", cls.Name)
	}
	c.Fields = append(c.Fields, vm.Field{Name: field, Type: u})
	p.constructorOf(cls, cd)
	ct := vm.ObjectOf(cls.Name)

	b := vm.NewBuilder()
	b.VarInsn(vm.OpALOAD, 0)
	b.MethodInsn(vm.OpINVOKESPECIAL, objectClass, "<init>", "()V", false)
	b.VarInsn(vm.OpALOAD, 0)
	vm.Load(b, 1, u)
	b.FieldInsn(vm.OpPUTFIELD, cls.Name, field, u)
	b.Insn(vm.OpRETURN)
	c.AddMethod(mustMethod(b, "<init>", vm.MethodType{Params: []vm.Type{u}, Return: vm.VoidType}, false, 1+u.Size()))

	b = vm.NewBuilder()
	vm.New(b, cls.Name)
	vm.Load(b, 0, u)
	b.MethodInsn(vm.OpINVOKESPECIAL, cls.Name, "<init>", vm.MethodType{Params: []vm.Type{u}, Return: vm.VoidType}.Descriptor(), false)
	b.Insn(vm.OpARETURN)
	c.AddMethod(mustMethod(b, "box-impl", vm.MethodType{Params: []vm.Type{u}, Return: ct}, true, u.Size()))

	b = vm.NewBuilder()
	b.VarInsn(vm.OpALOAD, 0)
	b.FieldInsn(vm.OpGETFIELD, cls.Name, field, u)
	vm.Return(b, u)
	c.AddMethod(mustMethod(b, "unbox-impl", vm.MethodType{Return: u}, false, 1))

	eq := vm.MethodType{Params: []vm.Type{u, u}, Return: vm.BooleanType}
	b = vm.NewBuilder()
	genValueEquals(b, u)
	c.AddMethod(mustMethod(b, "equals-impl0", eq, true, 2*u.Size()))

	b = vm.NewBuilder()
	no := b.NewLabel()
	b.VarInsn(vm.OpALOAD, 1)
	b.TypeInsn(vm.OpINSTANCEOF, ct)
	b.JumpInsn(vm.OpIFEQ, no)
	b.VarInsn(vm.OpALOAD, 0)
	b.FieldInsn(vm.OpGETFIELD, cls.Name, field, u)
	b.VarInsn(vm.OpALOAD, 1)
	b.TypeInsn(vm.OpCHECKCAST, ct)
	b.FieldInsn(vm.OpGETFIELD, cls.Name, field, u)
	b.MethodInsn(vm.OpINVOKESTATIC, cls.Name, "equals-impl0", eq.Descriptor(), false)
	b.Insn(vm.OpIRETURN)
	b.Mark(no)
	b.Insn(vm.OpICONST_0)
	b.Insn(vm.OpIRETURN)
	c.AddMethod(mustMethod(b, "equals", vm.MethodType{Params: []vm.Type{vm.ObjectType}, Return: vm.BooleanType}, false, 2))

	for _, fd := range cd.Funcs {
		p.planFunction(fd, p.function(fd), cls, cls.Name, ctx)
	}
}

// genValueEquals compares the two unboxed values in slots 0 and 1.
func genValueEquals(b *vm.Builder, u vm.Type) {
	if u.IsReference() {
		b.VarInsn(vm.OpALOAD, 0)
		b.VarInsn(vm.OpALOAD, 1)
		b.MethodInsn(vm.OpINVOKESTATIC, intrinsics, "areEqual", "(Ljava/lang/Object;Ljava/lang/Object;)Z", false)
		b.Insn(vm.OpIRETURN)
		return
	}
	no := b.NewLabel()
	vm.Load(b, 0, u)
	vm.Load(b, u.Size(), u)
	switch u.Sort {
	case vm.SortLong:
		b.Insn(vm.OpLCMP)
		b.JumpInsn(vm.OpIFNE, no)
	case vm.SortFloat:
		b.Insn(vm.OpFCMPL)
		b.JumpInsn(vm.OpIFNE, no)
	case vm.SortDouble:
		b.Insn(vm.OpDCMPL)
		b.JumpInsn(vm.OpIFNE, no)
	default:
		b.JumpInsn(vm.OpIF_ICMPNE, no)
	}
	b.Insn(vm.OpICONST_1)
	b.Insn(vm.OpIRETURN)
	b.Mark(no)
	b.Insn(vm.OpICONST_0)
	b.Insn(vm.OpIRETURN)
}

// ---------------------------------------------------------------------------
// Interface bodies
// ---------------------------------------------------------------------------

// addForwarders gives every class of this planner that implements an
// interface with bodies a forwarder to the static body, unless the class
// or one of its superclasses in the unit declares the method.
func (p *planner) addForwarders() {
	for _, c := range p.classes {
		cls := p.classNamed(c.Name)
		if cls == nil || cls.Kind == binding.ClassInterface {
			continue
		}
		for _, itf := range p.interfacesOf(cls) {
			p.u.mu.Lock()
			bodies := p.u.itfBodies[itf]
			p.u.mu.Unlock()
			for _, fn := range bodies {
				mt := fnType(fn)
				if p.inherits(cls, fn.Name+mt.Descriptor()) {
					continue
				}
				c.AddMethod(forwarder(c.Name, itf, fn.Name, mt))
				p.declare(c.Name, fn.Name+mt.Descriptor())
			}
		}
	}
}

// interfacesOf lists the interfaces cls implements directly or through
// interfaces of the unit.
func (p *planner) interfacesOf(cls *binding.Class) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(names []string)
	walk = func(names []string) {
		for _, n := range names {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			if itf := p.classNamed(n); itf != nil {
				walk(itf.Interfaces)
			}
		}
	}
	walk(cls.Interfaces)
	return out
}

// inherits reports whether cls or a superclass in the unit declares key.
func (p *planner) inherits(cls *binding.Class, key string) bool {
	for x := cls; x != nil; {
		if p.declares(x.Name, key) {
			return true
		}
		next := x.SuperClass
		if next == nil {
			next = p.classNamed(x.Super)
		}
		x = next
	}
	return false
}

// forwarder implements name in class c by calling the static body in the
// interface.
func forwarder(owner, itf, name string, mt vm.MethodType) *vm.Method {
	b := vm.NewBuilder()
	b.VarInsn(vm.OpALOAD, 0)
	slot := 1
	for _, pt := range mt.Params {
		vm.Load(b, slot, pt)
		slot += pt.Size()
	}
	body := vm.MethodType{Params: append([]vm.Type{vm.ObjectOf(itf)}, mt.Params...), Return: mt.Return}
	b.MethodInsn(vm.OpINVOKESTATIC, itf, name, body.Descriptor(), false)
	vm.Return(b, mt.Return)
	return mustMethod(b, name, mt, false, slot)
}

// ---------------------------------------------------------------------------
// Local classes
// ---------------------------------------------------------------------------

// compileLocalClass compiles a class declared inside the body being
// translated by t. Its methods are generated right away, within t's job.
func (u *unitState) compileLocalClass(t *Translator, n *ast.ClassDecl, cl *Closure) {
	p := newPlanner(u, nil)
	p.planClass(n, t.ctx, cl, nil)
	p.addForwarders()
	for _, c := range p.classes {
		t.out.addClass(c)
	}
	for _, j := range p.jobs {
		log.Debugf("local %s", j.name)
		j.run(t.out)
	}
}
