package compiler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

var log = commonlog.GetLogger("kiln.compiler")

// ---------------------------------------------------------------------------
// Units
// ---------------------------------------------------------------------------

// Unit is the output of compiling one file: its facade, its classes and
// the synthetic classes of closures, in a deterministic order.
type Unit struct {
	Facade      string
	Classes     []*vm.Class
	Diagnostics []Diagnostic
}

// Class returns the named class of the unit.
func (u *Unit) Class(name string) *vm.Class {
	for _, c := range u.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type ownedMethod struct {
	owner string
	m     *vm.Method
}

// jobOutput collects what one job generates. Outputs are merged in job
// order once every job is done.
type jobOutput struct {
	methods []ownedMethod
	classes []*vm.Class
}

func (o *jobOutput) addMethod(owner string, m *vm.Method) {
	o.methods = append(o.methods, ownedMethod{owner, m})
}

func (o *jobOutput) addClass(c *vm.Class) {
	o.classes = append(o.classes, c)
}

// unitState is shared by every job of a unit.
type unitState struct {
	bc  binding.Context
	cfg Config

	mu           sync.Mutex
	diagnostics  []Diagnostic
	localFuncs   map[*binding.Function]*Closure
	localClasses map[*binding.Class]*Closure
	accessors    map[string]*syntheticAccessor

	// Class layout recorded while planning. Local classes add to it from
	// running jobs, so access goes through mu.
	classes   map[string]*binding.Class
	ctors     map[string]*binding.Function
	declared  map[string]map[string]bool
	itfBodies map[string][]*binding.Function
}

func newUnitState(bc binding.Context, cfg Config) *unitState {
	return &unitState{
		bc:           bc,
		cfg:          cfg,
		localFuncs:   make(map[*binding.Function]*Closure),
		localClasses: make(map[*binding.Class]*Closure),
		accessors:    make(map[string]*syntheticAccessor),
		classes:      make(map[string]*binding.Class),
		ctors:        make(map[string]*binding.Function),
		declared:     make(map[string]map[string]bool),
		itfBodies:    make(map[string][]*binding.Function),
	}
}

func (u *unitState) diagnose(n ast.Node, msg string) {
	d := Diagnostic{Message: msg}
	if n != nil {
		d.Pos, d.Text = n.Span().Start, ast.Text(n)
	}
	log.Warningf("%s", d)
	u.mu.Lock()
	u.diagnostics = append(u.diagnostics, d)
	u.mu.Unlock()
}

func (u *unitState) registerLocalFunction(fn *binding.Function, cl *Closure) {
	u.mu.Lock()
	u.localFuncs[fn] = cl
	u.mu.Unlock()
}

func (u *unitState) localFunction(fn *binding.Function) *Closure {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.localFuncs[fn]
}

func (u *unitState) registerLocalClass(cls *binding.Class, cl *Closure) {
	u.mu.Lock()
	u.localClasses[cls] = cl
	u.mu.Unlock()
}

func (u *unitState) localClass(cls *binding.Class) *Closure {
	if cls == nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.localClasses[cls]
}

// ---------------------------------------------------------------------------
// Synthetic accessors
// ---------------------------------------------------------------------------

type accessorKind int

const (
	accessFunction accessorKind = iota
	accessGetter
	accessSetter
)

// syntheticAccessor is a static bridge to a private member, generated in
// the member's class for callers outside it.
type syntheticAccessor struct {
	kind     accessorKind
	owner    string
	name     string
	fn       *binding.Function
	prop     *binding.Property
	target   vm.MethodType // private method called
	instance bool
}

func (u *unitState) request(a *syntheticAccessor) string {
	key := a.owner + "." + a.name
	if a.kind == accessFunction {
		key += a.target.Descriptor()
	}
	u.mu.Lock()
	if _, ok := u.accessors[key]; !ok {
		u.accessors[key] = a
	}
	u.mu.Unlock()
	return a.name
}

// functionAccessor requests access$name for a private function. instance
// accessors take the receiver first.
func (u *unitState) functionAccessor(fn *binding.Function, mt vm.MethodType, instance bool) string {
	owner := fn.Facade
	if fn.Owner != nil {
		owner = fn.Owner.Name
	}
	return u.request(&syntheticAccessor{
		kind: accessFunction, owner: owner, name: "access$" + fn.Name,
		fn: fn, target: mt, instance: instance,
	})
}

// propertyAccessors requests access$getX$p and, for mutable properties,
// access$setX$p.
func (u *unitState) propertyAccessors(p *binding.Property) (string, string) {
	get := u.request(&syntheticAccessor{
		kind: accessGetter, owner: p.OwnerName(), name: "access$get" + capitalize(p.Name) + "$p",
		prop: p, instance: !p.IsStatic(),
	})
	set := ""
	if p.Mutable {
		set = u.request(&syntheticAccessor{
			kind: accessSetter, owner: p.OwnerName(), name: "access$set" + capitalize(p.Name) + "$p",
			prop: p, instance: !p.IsStatic(),
		})
	}
	return get, set
}

// genAccessor emits the body of a synthetic accessor.
func genAccessor(a *syntheticAccessor) (*vm.Method, error) {
	b := vm.NewBuilder()
	var params []vm.Type
	ret := vm.VoidType
	switch a.kind {
	case accessFunction:
		if a.instance {
			params = append(params, vm.ObjectOf(a.owner))
		}
		params = append(params, a.target.Params...)
		ret = a.target.Return
		slot := 0
		for _, p := range params {
			vm.Load(b, slot, p)
			slot += p.Size()
		}
		op := vm.OpINVOKESTATIC
		if a.instance {
			op = vm.OpINVOKESPECIAL
		}
		b.MethodInsn(op, a.owner, a.fn.Name, a.target.Descriptor(), false)
	case accessGetter, accessSetter:
		ft := types.Map(a.prop.Type)
		if a.instance {
			params = append(params, vm.ObjectOf(a.owner))
			b.VarInsn(vm.OpALOAD, 0)
		}
		if a.kind == accessGetter {
			ret = ft
			op := vm.OpGETSTATIC
			if a.instance {
				op = vm.OpGETFIELD
			}
			b.FieldInsn(op, a.owner, a.prop.Name, ft)
			break
		}
		vm.Load(b, len(params), ft)
		params = append(params, ft)
		op := vm.OpPUTSTATIC
		if a.instance {
			op = vm.OpPUTFIELD
		}
		b.FieldInsn(op, a.owner, a.prop.Name, ft)
	}
	vm.Return(b, ret)
	mt := vm.MethodType{Params: params, Return: ret}
	return b.Method(a.name, mt.Descriptor(), true, mt.ArgSize())
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// extraKey identifies the synthetic parameters of a method, such as the
// masks of a $default stub.
type extraKey struct{ n int }

// beginMethod lays out the parameter slots of fn: this (unless thisT is
// void), the extension receiver, the value parameters, extras and the
// continuation. It returns the slots of extras.
func (t *Translator) beginMethod(thisT vm.Type, fn *binding.Function, extras ...vm.Type) []int {
	t.enterScope()
	if thisT.Sort != vm.SortVoid {
		t.declare(thisKey{}, "this", thisT)
	}
	var slots []int
	if fn == nil {
		for i, x := range extras {
			slots = append(slots, t.declare(extraKey{i}, "", x))
		}
		return slots
	}
	if fn.Receiver != nil {
		t.declare(receiverKey{fn}, "$this$"+fn.Name, types.Map(fn.Receiver))
	}
	for _, p := range fn.Params {
		t.declare(p, p.Name, types.Map(p.Type))
	}
	for i, x := range extras {
		slots = append(slots, t.declare(extraKey{i}, "", x))
	}
	switch {
	case fn.Kind == binding.FunctionConstructor:
		t.ret, t.retK = vm.VoidType, types.Unit
	case fn.Suspend:
		t.contSlot = t.declare(continuationKey{}, "$completion", vm.ObjectOf(continuationClass))
		t.ret, t.retK = vm.ObjectType, types.Nullable(types.Any)
	default:
		t.ret, t.retK = types.MapReturn(fn.Return), fn.Return
	}
	return slots
}

// genBody emits a function body and the final return.
func (t *Translator) genBody(body ast.Expr) {
	if body == nil {
		internalf(nil, "%s has no body", t.fn.Name)
	}
	// A body ending in return or throw gets no trailing return.
	to, toK := t.ret, t.retK
	abrupt := t.completesAbruptly(body)
	if abrupt {
		to, toK = vm.VoidType, types.Unit
	}
	if b, ok := body.(*ast.Block); ok {
		t.genBlockInto(b, to, toK)
	} else {
		t.lineNumber(body)
		put(t.gen(body), to, toK, t.s)
	}
	if !abrupt {
		vm.Return(t.s, t.ret)
	}
}

// completesAbruptly reports whether body ends in an expression of type
// Nothing.
func (t *Translator) completesAbruptly(body ast.Expr) bool {
	if b, ok := body.(*ast.Block); ok {
		if len(b.Stmts) == 0 {
			return false
		}
		body = b.Stmts[len(b.Stmts)-1]
	}
	return t.typeOf(body).IsNothing()
}

// endMethod closes the method scope and finalizes the body.
func (t *Translator) endMethod(b *vm.Builder, name, desc string, static bool) *vm.Method {
	if len(t.scopes) != 1 {
		internalf(nil, "%s: %d scopes open at the end of the body", name, len(t.scopes))
	}
	if len(t.blocks) != 0 {
		internalf(nil, "%s: block stack not empty at the end of the body", name)
	}
	t.leaveScope(t.scopes[0])
	m, err := b.Method(name, desc, static, t.frame.Max())
	if err != nil {
		internalf(nil, "%v", err)
	}
	m.Reified = sortedKeys(t.reified)
	log.Debugf("method %s.%s%s: %d instructions, max stack %d, max locals %d",
		t.className, name, desc, len(m.Instructions), m.MaxStack, m.MaxLocals)
	return m
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// job generates one method (and the closures inside it).
type job struct {
	name string
	node ast.Node
	run  func(out *jobOutput)
}

func (j *job) exec(out *jobOutput) (err error) {
	defer recoverInternal(j.node, &err)
	j.run(out)
	return nil
}

// Compile generates the classes of file. Method bodies are translated
// concurrently, at most cfg.Parallelism at a time; the result does not
// depend on scheduling.
func Compile(ctx context.Context, file *ast.File, bc binding.Context, cfg Config) (*Unit, error) {
	u := newUnitState(bc, cfg)
	p := newPlanner(u, file)
	if err := p.planFile(); err != nil {
		return nil, err
	}
	log.Infof("compiling %s: %d classes, %d methods", file.Facade, len(p.classes), len(p.jobs))

	outs := make([]*jobOutput, len(p.jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallelism())
	for i, j := range p.jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := &jobOutput{}
			if err := j.exec(out); err != nil {
				log.Errorf("%s: %s", j.name, err)
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	unit := &Unit{Facade: file.Facade}
	byName := make(map[string]*vm.Class)
	for _, c := range p.classes {
		unit.Classes = append(unit.Classes, c)
		byName[c.Name] = c
	}
	for _, out := range outs {
		for _, c := range out.classes {
			unit.Classes = append(unit.Classes, c)
			byName[c.Name] = c
		}
	}
	for _, out := range outs {
		for _, om := range out.methods {
			c := byName[om.owner]
			if c == nil {
				return nil, newInternal(nil, errors.Errorf("method %s for unknown class %s", om.m.Name, om.owner))
			}
			c.AddMethod(om.m)
		}
	}

	keys := make([]string, 0, len(u.accessors))
	for k := range u.accessors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a := u.accessors[k]
		c := byName[a.owner]
		if c == nil {
			return nil, newInternal(nil, errors.Errorf("accessor %s for class %s outside the unit", a.name, a.owner))
		}
		m, err := genAccessor(a)
		if err != nil {
			return nil, newInternal(nil, err)
		}
		c.AddMethod(m)
	}

	sort.SliceStable(u.diagnostics, func(i, j int) bool {
		a, b := u.diagnostics[i].Pos, u.diagnostics[j].Pos
		return a.Line < b.Line || a.Line == b.Line && a.Column < b.Column
	})
	unit.Diagnostics = u.diagnostics
	return unit, nil
}

// CompileUnits compiles independent files concurrently. Units come back in
// the order of files.
func CompileUnits(ctx context.Context, files []*ast.File, bc binding.Context, cfg Config) ([]*Unit, error) {
	units := make([]*Unit, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			u, err := Compile(gctx, f, bc, cfg)
			if err != nil {
				return err
			}
			units[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

// prefixNames returns the synthetic class prefix for a method of owner.
// Overloads of one name get distinct prefixes.
type prefixNames struct {
	used map[string]int
}

func (p *prefixNames) counter(owner, name string) *nameCounter {
	base := owner
	if name != "" {
		base += "$" + strings.NewReplacer("<", "", ">", "").Replace(name)
	}
	k := p.used[base]
	p.used[base]++
	if k > 0 {
		base += "$" + strconv.Itoa(k)
	}
	return &nameCounter{prefix: base}
}
