// Package compose builds complete WGSL programs out of composable shader
// modules and compiles them with naga.
//
// A module is registered under its import name. Composing a root source
// runs the preprocessor over it with a set of definitions, inlines every
// imported module (preprocessed with the same definitions) exactly once in
// dependency order, and lowers the result to naga IR.
//
// Imports are textual: all included modules share one namespace.
//
// A Composer is not safe for concurrent use; the shader cache owns it and
// serializes access with its own lock.
package compose

import (
	"fmt"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// Options configures a Composer.
type Options struct {
	// Validate runs naga IR validation on every composed module.
	Validate bool
}

// ModuleDescriptor describes a composable module.
type ModuleDescriptor struct {
	// Name is the import name other sources use to reference the module.
	Name string

	// Path is the file path, used in diagnostics.
	Path string

	// Source is the raw WGSL with preprocessor directives.
	Source string
}

// ComposeDescriptor describes a root shader to compose.
type ComposeDescriptor struct {
	Path   string
	Source string
	Defs   map[string]DefValue
}

// Module is a composed and lowered shader.
type Module struct {
	// Source is the final WGSL after preprocessing and import inlining.
	Source string

	// IR is the naga intermediate representation of Source.
	IR *ir.Module
}

// Composer holds the registry of composable modules.
type Composer struct {
	opts    Options
	modules map[string]ModuleDescriptor
}

// New creates an empty composer.
func New(opts Options) *Composer {
	return &Composer{
		opts:    opts,
		modules: make(map[string]ModuleDescriptor),
	}
}

// AddModule registers or replaces a composable module.
func (c *Composer) AddModule(desc ModuleDescriptor) error {
	if desc.Name == "" {
		return &Error{Path: desc.Path, Msg: "composable module has no name"}
	}
	c.modules[desc.Name] = desc
	return nil
}

// RemoveModule drops a composable module. Unknown names are ignored.
func (c *Composer) RemoveModule(name string) {
	delete(c.modules, name)
}

// Contains reports whether a module is registered under name.
func (c *Composer) Contains(name string) bool {
	_, ok := c.modules[name]
	return ok
}

// Len returns the number of registered modules.
func (c *Composer) Len() int {
	return len(c.modules)
}

// frame is one entry of the composition walk.
type frame struct {
	name string
	path string
	pp   *preprocessed
	next int
}

// Compose preprocesses desc, inlines its imports and lowers the result.
//
// The import walk is iterative: a module is emitted once all of its own
// imports have been emitted, and an import that is already on the walk
// stack is reported as a cycle.
func (c *Composer) Compose(desc ComposeDescriptor) (*Module, error) {
	root, err := preprocess(desc.Path, desc.Source, desc.Defs)
	if err != nil {
		return nil, err
	}

	var out strings.Builder
	emitted := make(map[string]bool)
	onStack := make(map[string]bool)
	stack := []*frame{{path: desc.Path, pp: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next < len(top.pp.imports) {
			name := top.pp.imports[top.next]
			top.next++

			if emitted[name] {
				continue
			}
			if onStack[name] {
				return nil, &Error{Path: top.path, Msg: fmt.Sprintf("import cycle through %q", name)}
			}
			mod, ok := c.modules[name]
			if !ok {
				return nil, &Error{Path: top.path, Msg: fmt.Sprintf("missing import %q", name)}
			}
			pp, err := preprocess(mod.Path, mod.Source, desc.Defs)
			if err != nil {
				return nil, err
			}
			onStack[name] = true
			stack = append(stack, &frame{name: name, path: mod.Path, pp: pp})
			continue
		}

		out.WriteString(top.pp.body)
		if top.name != "" {
			emitted[top.name] = true
			delete(onStack, top.name)
		}
		stack = stack[:len(stack)-1]
	}

	source := out.String()
	module, err := c.lower(desc.Path, source)
	if err != nil {
		return nil, err
	}
	return &Module{Source: source, IR: module}, nil
}

// lower runs the naga front end over composed source.
func (c *Composer) lower(path, source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, &Error{Path: path, Msg: "parse failed", Err: err}
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, &Error{Path: path, Msg: "lowering failed", Err: err}
	}
	if !c.opts.Validate {
		return module, nil
	}
	validationErrors, err := naga.Validate(module)
	if err != nil {
		return nil, &Error{Path: path, Msg: "validation failed", Err: err}
	}
	if len(validationErrors) > 0 {
		return nil, &Error{Path: path, Msg: "validation failed", Err: &validationErrors[0]}
	}
	return module, nil
}

// Error is a composition diagnostic.
type Error struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
