package ast

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// Inspect traverses the tree rooted at n in depth-first order, calling f for
// each node. If f returns false the children of that node are skipped.
// Nil children are not visited.
func Inspect(n Node, f func(Node) bool) {
	if isNil(n) || !f(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, f)
	}
}

func isNil(n Node) bool {
	if n == nil {
		return true
	}
	switch v := n.(type) {
	case *Block:
		return v == nil
	case *VarDecl:
		return v == nil
	case *Param:
		return v == nil
	case *ClassDecl:
		return v == nil
	case *Destructure:
		return v == nil
	}
	return false
}

// Children returns the direct child nodes of n, in evaluation order.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if !isNil(c) {
				out = append(out, c)
			}
		}
	}
	addExprs := func(es []Expr) {
		for _, e := range es {
			if e != nil {
				add(e)
			}
		}
	}
	switch n := n.(type) {
	case *Template:
		addExprs(n.Parts)
	case *Binary:
		add(n.Left, n.Right)
	case *Unary:
		add(n.X)
	case *Postfix:
		add(n.X)
	case *Assign:
		add(n.Target, n.Value)
	case *Is:
		add(n.X)
	case *As:
		add(n.X)
	case *Call:
		if n.Callee != nil {
			add(n.Callee)
		}
		for _, a := range n.Args {
			add(a.Value)
		}
	case *Dot:
		add(n.X, n.Sel)
	case *Index:
		add(n.X)
		addExprs(n.Indices)
	case *CallableRef:
		if n.Receiver != nil {
			add(n.Receiver)
		}
	case *Block:
		addExprs(n.Stmts)
	case *If:
		add(n.Cond, n.Then)
		if n.Else != nil {
			add(n.Else)
		}
	case *When:
		if n.Var != nil {
			add(n.Var)
		} else if n.Subject != nil {
			add(n.Subject)
		}
		for _, b := range n.Branches {
			for _, c := range b.Conds {
				if c.Expr != nil {
					add(c.Expr)
				}
			}
			add(b.Body)
		}
		if n.Else != nil {
			add(n.Else)
		}
	case *While:
		add(n.Cond, n.Body)
	case *DoWhile:
		add(n.Body, n.Cond)
	case *For:
		add(n.Iter)
		if n.Var != nil {
			add(n.Var)
		}
		if n.Destructure != nil {
			add(n.Destructure)
		}
		add(n.Body)
	case *Return:
		if n.Value != nil {
			add(n.Value)
		}
	case *Throw:
		add(n.X)
	case *Try:
		add(n.Body)
		for _, c := range n.Catches {
			add(c.Param, c.Body)
		}
		if n.Finally != nil {
			add(n.Finally)
		}
	case *Param:
		if n.Default != nil {
			add(n.Default)
		}
	case *VarDecl:
		if n.Init != nil {
			add(n.Init)
		}
		if n.Delegate != nil {
			add(n.Delegate)
		}
	case *Destructure:
		if n.Init != nil {
			add(n.Init)
		}
		for _, v := range n.Vars {
			if v != nil {
				add(v)
			}
		}
	case *FunDecl:
		for _, p := range n.Params {
			add(p)
		}
		if n.Body != nil {
			add(n.Body)
		}
	case *Lambda:
		for _, p := range n.Params {
			add(p)
		}
		add(n.Body)
	case *PropertyDecl:
		if n.Init != nil {
			add(n.Init)
		}
	case *EntryDecl:
		addExprs(n.Args)
	case *ClassDecl:
		for _, p := range n.Params {
			add(p)
		}
		addExprs(n.SuperArgs)
		for _, e := range n.Entries {
			add(e)
		}
		for _, p := range n.Props {
			add(p)
		}
		addExprs(n.Init)
		for _, f := range n.Funcs {
			add(f)
		}
		for _, c := range n.Classes {
			add(c)
		}
		if n.Companion != nil {
			add(n.Companion)
		}
	case *ObjectLit:
		add(n.Decl)
	case *File:
		for _, p := range n.Props {
			add(p)
		}
		for _, f := range n.Funcs {
			add(f)
		}
		for _, c := range n.Classes {
			add(c)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// Text renders a compact, source-like form of n for diagnostics.
func Text(n Node) string {
	if isNil(n) {
		return "<nil>"
	}
	switch n := n.(type) {
	case *Const:
		switch v := n.Value.(type) {
		case nil:
			return "null"
		case string:
			return fmt.Sprintf("%q", v)
		case int64:
			return fmt.Sprintf("%dL", v)
		case float32:
			return fmt.Sprintf("%vf", v)
		}
		return fmt.Sprint(n.Value)
	case *Template:
		return "\"" + joinText(n.Parts, "") + "\""
	case *Name:
		return n.Ident
	case *This:
		if n.Label != "" {
			return "this@" + n.Label
		}
		return "this"
	case *Binary:
		return Text(n.Left) + " " + n.Op.String() + " " + Text(n.Right)
	case *Unary:
		return n.Op.String() + Text(n.X)
	case *Postfix:
		return Text(n.X) + n.Op.String()
	case *Assign:
		return Text(n.Target) + " " + n.Op.String() + " " + Text(n.Value)
	case *Is:
		if n.Negated {
			return Text(n.X) + " !is " + n.Type.String()
		}
		return Text(n.X) + " is " + n.Type.String()
	case *As:
		if n.Safe {
			return Text(n.X) + " as? " + n.Type.String()
		}
		return Text(n.X) + " as " + n.Type.String()
	case *Call:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			s := Text(a.Value)
			if a.Spread {
				s = "*" + s
			}
			if a.Name != "" {
				s = a.Name + " = " + s
			}
			args[i] = s
		}
		callee := ""
		if n.Callee != nil {
			callee = Text(n.Callee)
		}
		return callee + "(" + strings.Join(args, ", ") + ")"
	case *Dot:
		if n.Safe {
			return Text(n.X) + "?." + Text(n.Sel)
		}
		return Text(n.X) + "." + Text(n.Sel)
	case *Index:
		return Text(n.X) + "[" + joinText(n.Indices, ", ") + "]"
	case *CallableRef:
		if n.Receiver != nil {
			return Text(n.Receiver) + "::" + n.Name
		}
		return "::" + n.Name
	case *Block:
		return "{ " + joinText(n.Stmts, "; ") + " }"
	case *If:
		s := "if (" + Text(n.Cond) + ") " + Text(n.Then)
		if n.Else != nil {
			s += " else " + Text(n.Else)
		}
		return s
	case *When:
		if n.Subject != nil {
			return "when (" + Text(n.Subject) + ") { ... }"
		}
		return "when { ... }"
	case *While:
		return "while (" + Text(n.Cond) + ") ..."
	case *DoWhile:
		return "do ... while (" + Text(n.Cond) + ")"
	case *For:
		return "for (... in " + Text(n.Iter) + ") ..."
	case *Break:
		return label("break", n.Label)
	case *Continue:
		return label("continue", n.Label)
	case *Return:
		s := label("return", n.Label)
		if n.Value != nil {
			s += " " + Text(n.Value)
		}
		return s
	case *Throw:
		return "throw " + Text(n.X)
	case *Try:
		return "try { ... }"
	case *Param:
		return n.Name
	case *VarDecl:
		s := "val " + n.Name
		if n.Init != nil {
			s += " = " + Text(n.Init)
		}
		if n.Delegate != nil {
			s += " by " + Text(n.Delegate)
		}
		return s
	case *Destructure:
		names := make([]string, len(n.Vars))
		for i, v := range n.Vars {
			names[i] = "_"
			if v != nil {
				names[i] = v.Name
			}
		}
		return "val (" + strings.Join(names, ", ") + ") = " + Text(n.Init)
	case *FunDecl:
		return "fun " + n.Name + "(...)"
	case *Lambda:
		return "{ ... -> ... }"
	case *PropertyDecl:
		return "val " + n.Name
	case *EntryDecl:
		return n.Name
	case *ClassDecl:
		return "class " + n.Name
	case *ObjectLit:
		return "object : ..."
	case *File:
		return "file " + n.Facade
	}
	return fmt.Sprintf("%T", n)
}

func label(kw, l string) string {
	if l == "" {
		return kw
	}
	return kw + "@" + l
}

func joinText(es []Expr, sep string) string {
	parts := make([]string, len(es))
	for i, e := range es {
		if c, ok := e.(*Const); ok {
			if s, ok := c.Value.(string); ok && sep == "" {
				parts[i] = s
				continue
			}
		}
		parts[i] = Text(e)
	}
	return strings.Join(parts, sep)
}
