package vm

// ---------------------------------------------------------------------------
// Method and Class: compiled output
// ---------------------------------------------------------------------------

// Method is a compiled method body.
type Method struct {
	Name   string
	Desc   string
	Static bool

	Instructions []Instruction
	Labels       map[Label]int // label -> instruction index
	TryCatch     []TryCatch
	Locals       []LocalVariable
	MaxLocals    int
	MaxStack     int

	// Reified lists type parameters whose runtime witnesses callers must
	// supply because this body (or a closure inside it) uses them.
	Reified []string
}

// Signature returns the parsed descriptor.
func (m *Method) Signature() MethodType {
	return MustMethodType(m.Desc)
}

// Key returns the name+descriptor lookup key.
func (m *Method) Key() string {
	return m.Name + m.Desc
}

// Field is a declared field.
type Field struct {
	Name   string
	Type   Type
	Static bool
}

// Class is a compiled class: a file facade, a closure class or a synthetic
// holder for accessors.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Fields     []Field
	Methods    []*Method

	// Outer names the class a synthetic class was generated for.
	Outer string
}

// Method returns the method with the given name and descriptor.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// MethodNamed returns the first method with the given name.
func (c *Class) MethodNamed(name string) *Method {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// AddMethod appends m, replacing a previous method with the same key.
func (c *Class) AddMethod(m *Method) {
	for i, old := range c.Methods {
		if old.Key() == m.Key() {
			c.Methods[i] = m
			return
		}
	}
	c.Methods = append(c.Methods, m)
}

// HasField reports whether the class declares the named field.
func (c *Class) HasField(name string) bool {
	for _, f := range c.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
