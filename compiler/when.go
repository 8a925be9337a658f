package compiler

import (
	"sort"

	"github.com/chazu/kiln/ast"
	"github.com/chazu/kiln/binding"
	"github.com/chazu/kiln/types"
	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// when
// ---------------------------------------------------------------------------

// whenKey identifies the hidden local holding a when subject.
type whenKey struct{ n *ast.When }

func (t *Translator) genWhen(n *ast.When) StackValue {
	vt, kt := t.valueType(n)
	return newOperation(vt, kt, func(to vm.Type, toK *types.Type, s vm.Sink) {
		sc := t.enterScope()
		subj, subjK := t.whenSubject(n)
		end := s.NewLabel()
		if !t.genWhenSwitch(n, subj, subjK, to, toK, end) {
			t.genWhenChain(n, subj, subjK, to, toK, end)
		}
		s.Mark(end)
		t.leaveScope(sc)
	})
}

// whenSubject evaluates the subject once into a local.
func (t *Translator) whenSubject(n *ast.When) (StackValue, *types.Type) {
	if n.Var != nil {
		v, ok := t.bc.DeclarationOf(n.Var).(*binding.Variable)
		if !ok {
			internalf(n.Var, "when subject %s has no declaration", n.Var.Name)
		}
		t.genStatement(n.Var)
		return t.localValue(v, n.Var), v.Type
	}
	if n.Subject == nil {
		return nil, nil
	}
	st, sk := t.putValue(n.Subject)
	slot := t.declare(whenKey{n}, "", st)
	vm.Store(t.s, slot, st)
	return newLocal(slot, st, sk), sk
}

// genWhenChain tests the branches in order; each condition runs only when
// every earlier one failed.
func (t *Translator) genWhenChain(n *ast.When, subj StackValue, subjK *types.Type, to vm.Type, toK *types.Type, end vm.Label) {
	s := t.s
	for _, br := range n.Branches {
		next := s.NewLabel()
		if len(br.Conds) == 1 {
			t.whenCondJump(br.Conds[0], subj, subjK, next, false)
		} else {
			body := s.NewLabel()
			for _, c := range br.Conds {
				t.whenCondJump(c, subj, subjK, body, true)
			}
			vm.Goto(s, next)
			s.Mark(body)
		}
		put(t.gen(br.Body), to, toK, s)
		vm.Goto(s, end)
		s.Mark(next)
	}
	t.whenElse(n, to, toK)
}

// whenElse emits the fallthrough: the else branch, a throw when the when
// was proven exhaustive, or Unit.
func (t *Translator) whenElse(n *ast.When, to vm.Type, toK *types.Type) {
	s := t.s
	switch {
	case n.Else != nil:
		put(t.gen(n.Else), to, toK, s)
	case t.bc.IsExhaustive(n):
		const exc = "kotlin/NoWhenBranchMatchedException"
		vm.New(s, exc)
		s.MethodInsn(vm.OpINVOKESPECIAL, exc, "<init>", "()V", false)
		s.Insn(vm.OpATHROW)
	default:
		coerce(vm.VoidType, types.Unit, to, toK, s)
	}
}

// whenCondJump jumps to l when condition c holds (onTrue) or fails.
func (t *Translator) whenCondJump(c *ast.WhenCond, subj StackValue, subjK *types.Type, l vm.Label, onTrue bool) {
	s := t.s
	if c.Negated {
		onTrue = !onTrue
	}
	var v StackValue
	switch c.Kind {
	case ast.CondExpr:
		if subj == nil {
			t.condJump(c.Expr, l, onTrue)
			return
		}
		ck := t.typeOf(c.Expr)
		if t.isNullConstant(c.Expr) {
			v = t.nullCheck(ast.OpEq, subj, subjK)
			break
		}
		st, ct := types.Map(subjK), types.Map(ck)
		if st.IsPrimitive() && ct.IsPrimitive() && !subjK.IsInline() && !ck.IsInline() {
			w := widest(st, ct)
			put(subj, w, nil, s)
			t.put(c.Expr, w, nil)
			code := 0
			if !onTrue {
				code = 1
			}
			if w.IsIntLike() {
				s.JumpInsn(vm.OpIF_ICMPEQ+vm.Opcode(code), l)
			} else {
				compareZero(w, false, s)
				s.JumpInsn(vm.OpIFEQ+vm.Opcode(code), l)
			}
			return
		}
		v = t.genEquality(ast.OpEq, subj, subjK, t.gen(c.Expr), ck)
	case ast.CondIs:
		v = t.instanceOf(subj, subjK, c.Type)
	case ast.CondIn:
		v = t.containsValue(c.Expr, subj, subjK)
	}
	put(v, vm.BooleanType, types.Boolean, s)
	if onTrue {
		s.JumpInsn(vm.OpIFNE, l)
	} else {
		s.JumpInsn(vm.OpIFEQ, l)
	}
}

// ---------------------------------------------------------------------------
// Switch tables
// ---------------------------------------------------------------------------

type switchKind int

const (
	switchNone switchKind = iota
	switchInt
	switchString
	switchEnum
)

// switchCase is one distinct constant and the branch it selects.
type switchCase struct {
	key    int32
	str    string
	branch int
}

// switchKindOf classifies the subject type for table dispatch.
func switchKindOf(k *types.Type) switchKind {
	switch {
	case k == nil:
		return switchNone
	case k.IsIntegral() && !k.Nullable:
		return switchInt
	case k.Kind == types.KindString:
		return switchString
	case k.IsEnum():
		return switchEnum
	}
	return switchNone
}

// switchCases collects the constants of an eligible when. The first branch
// listing a constant wins. ok is false when any condition is not a plain
// constant equality.
func (t *Translator) switchCases(n *ast.When, kind switchKind) ([]switchCase, bool) {
	var cases []switchCase
	seenInt := make(map[int32]bool)
	seenStr := make(map[string]bool)
	for i, br := range n.Branches {
		for _, c := range br.Conds {
			if c.Kind != ast.CondExpr || c.Negated {
				return nil, false
			}
			switch kind {
			case switchInt:
				v, ok := t.constantOf(c.Expr)
				key, isInt := v.(int32)
				if !ok || !isInt {
					return nil, false
				}
				if !seenInt[key] {
					seenInt[key] = true
					cases = append(cases, switchCase{key: key, branch: i})
				}
			case switchString:
				v, ok := t.constantOf(c.Expr)
				str, isStr := v.(string)
				if !ok || !isStr {
					return nil, false
				}
				if !seenStr[str] {
					seenStr[str] = true
					cases = append(cases, switchCase{key: vm.StringHash(str), str: str, branch: i})
				}
			case switchEnum:
				e, ok := t.bc.DeclarationOf(c.Expr).(*binding.EnumEntry)
				if !ok {
					return nil, false
				}
				key := int32(e.Ordinal)
				if !seenInt[key] {
					seenInt[key] = true
					cases = append(cases, switchCase{key: key, branch: i})
				}
			}
		}
	}
	return cases, len(cases) >= 2
}

func (t *Translator) constantOf(e ast.Expr) (any, bool) {
	if c, ok := e.(*ast.Const); ok {
		return c.Value, c.Value != nil
	}
	return t.bc.ConstantOf(e)
}

// genWhenSwitch compiles a when over constants to a table dispatch. It
// emits nothing and reports false when the when is not eligible.
func (t *Translator) genWhenSwitch(n *ast.When, subj StackValue, subjK *types.Type, to vm.Type, toK *types.Type, end vm.Label) bool {
	if !t.cfg.SwitchTables || subj == nil {
		return false
	}
	kind := switchKindOf(subjK)
	if kind == switchNone {
		return false
	}
	cases, ok := t.switchCases(n, kind)
	if !ok {
		return false
	}
	s := t.s
	dflt := s.NewLabel()
	labels := make([]vm.Label, len(n.Branches))
	used := make([]bool, len(n.Branches))
	for _, c := range cases {
		if !used[c.branch] {
			used[c.branch] = true
			labels[c.branch] = s.NewLabel()
		}
	}
	log.Debugf("when at line %d: %d-way switch", n.Span().Start.Line, len(cases))

	switch kind {
	case switchInt:
		put(subj, vm.IntType, types.Int, s)
		emitSwitch(s, caseKeys(cases), caseLabels(cases, labels), dflt)

	case switchEnum:
		st := subj.Type()
		if subjK.Nullable {
			put(subj, st, subjK, s)
			s.JumpInsn(vm.OpIFNULL, dflt)
		}
		put(subj, st, subjK, s)
		s.MethodInsn(vm.OpINVOKEVIRTUAL, subjK.Name, "ordinal", "()I", false)
		emitSwitch(s, caseKeys(cases), caseLabels(cases, labels), dflt)

	case switchString:
		st := subj.Type()
		if subjK.Nullable {
			put(subj, st, subjK, s)
			s.JumpInsn(vm.OpIFNULL, dflt)
		}
		put(subj, vm.StringType, nil, s)
		s.MethodInsn(vm.OpINVOKEVIRTUAL, "java/lang/String", "hashCode", "()I", false)
		buckets := bucketByHash(cases)
		keys := make([]int32, len(buckets))
		bucketLabels := make([]vm.Label, len(buckets))
		for i, b := range buckets {
			keys[i] = b[0].key
			bucketLabels[i] = s.NewLabel()
		}
		emitSwitch(s, keys, bucketLabels, dflt)
		for i, b := range buckets {
			s.Mark(bucketLabels[i])
			for _, c := range b {
				put(subj, vm.StringType, nil, s)
				s.Ldc(c.str)
				s.MethodInsn(vm.OpINVOKEVIRTUAL, "java/lang/String", "equals", "(Ljava/lang/Object;)Z", false)
				s.JumpInsn(vm.OpIFNE, labels[c.branch])
			}
			vm.Goto(s, dflt)
		}
	}

	for i, br := range n.Branches {
		if !used[i] {
			continue
		}
		s.Mark(labels[i])
		put(t.gen(br.Body), to, toK, s)
		vm.Goto(s, end)
	}
	s.Mark(dflt)
	t.whenElse(n, to, toK)
	return true
}

func caseKeys(cases []switchCase) []int32 {
	keys := make([]int32, len(cases))
	for i, c := range cases {
		keys[i] = c.key
	}
	return keys
}

func caseLabels(cases []switchCase, labels []vm.Label) []vm.Label {
	out := make([]vm.Label, len(cases))
	for i, c := range cases {
		out[i] = labels[c.branch]
	}
	return out
}

// bucketByHash groups string cases by hash code, keeping source order
// inside each bucket.
func bucketByHash(cases []switchCase) [][]switchCase {
	index := make(map[int32]int)
	var buckets [][]switchCase
	for _, c := range cases {
		i, ok := index[c.key]
		if !ok {
			i = len(buckets)
			index[c.key] = i
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], c)
	}
	return buckets
}

// emitSwitch picks TABLESWITCH or LOOKUPSWITCH by comparing estimated
// space plus three times estimated time.
func emitSwitch(s vm.Sink, keys []int32, labels []vm.Label, dflt vm.Label) {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	sortedKeys := make([]int32, len(keys))
	sortedLabels := make([]vm.Label, len(keys))
	for i, j := range idx {
		sortedKeys[i] = keys[j]
		sortedLabels[i] = labels[j]
	}

	lo, hi := int64(sortedKeys[0]), int64(sortedKeys[len(sortedKeys)-1])
	n := int64(len(sortedKeys))
	tableSpace, tableTime := 4+(hi-lo+1), int64(3)
	lookupSpace, lookupTime := 3+2*n, n
	if tableSpace+3*tableTime <= lookupSpace+3*lookupTime {
		table := make([]vm.Label, hi-lo+1)
		for i := range table {
			table[i] = dflt
		}
		for i, k := range sortedKeys {
			table[int64(k)-lo] = sortedLabels[i]
		}
		s.TableSwitch(int32(lo), int32(hi), dflt, table...)
		return
	}
	s.LookupSwitch(dflt, sortedKeys, sortedLabels)
}
