// Package execctx provides the per-session variable store with scoped
// precedence, template interpolation and snapshot support.
package execctx

import (
	"context"
	"time"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
)

// Scope is a variable namespace. Lookup precedence is SCRIPT > SESSION >
// GLOBAL.
type Scope string

const (
	// ScopeScript holds the currently running step's locals. Cleared between
	// steps and never persisted.
	ScopeScript Scope = "script"
	// ScopeSession accumulates across the whole workflow run and is the only
	// scope that survives in snapshots.
	ScopeSession Scope = "session"
	// ScopeGlobal holds host facts computed once at session start. Read-only
	// after derivation, re-derived on resume, never persisted.
	ScopeGlobal Scope = "global"
)

// Value is one stored variable with its declared type tag.
type Value struct {
	Raw       string
	Type      models.VariableType
	Sensitive bool
}

// Context is the execution context of one session. It is owned exclusively
// by the session's goroutine; no locking is needed or provided.
type Context struct {
	script  map[string]Value
	session map[string]Value
	global  map[string]Value
	conn    remote.Executor
}

// New creates an empty context.
func New() *Context {
	return &Context{
		script:  make(map[string]Value),
		session: make(map[string]Value),
		global:  make(map[string]Value),
	}
}

// Set writes a value into exactly the named scope.
func (c *Context) Set(name, raw string, valueType models.VariableType, scope Scope) {
	c.setValue(name, Value{Raw: raw, Type: valueType}, scope)
}

// SetSensitive writes a value that must never appear in persisted snapshots
// in cleartext.
func (c *Context) SetSensitive(name, raw string, scope Scope) {
	c.setValue(name, Value{Raw: raw, Type: models.VariableTypeString, Sensitive: true}, scope)
}

func (c *Context) setValue(name string, value Value, scope Scope) {
	switch scope {
	case ScopeScript:
		c.script[name] = value
	case ScopeSession:
		c.session[name] = value
	case ScopeGlobal:
		c.global[name] = value
	}
}

// Get resolves name through the scope precedence chain.
func (c *Context) Get(name string) (Value, bool) {
	if v, ok := c.script[name]; ok {
		return v, true
	}

	if v, ok := c.session[name]; ok {
		return v, true
	}

	if v, ok := c.global[name]; ok {
		return v, true
	}

	return Value{}, false
}

// Lookup is Get reduced to the raw string, shaped for condition evaluation.
func (c *Context) Lookup(name string) (string, bool) {
	v, ok := c.Get(name)

	return v.Raw, ok
}

// ScopeValues returns a copy of one scope's contents.
func (c *Context) ScopeValues(scope Scope) map[string]Value {
	var src map[string]Value

	switch scope {
	case ScopeScript:
		src = c.script
	case ScopeSession:
		src = c.session
	case ScopeGlobal:
		src = c.global
	}

	out := make(map[string]Value, len(src))
	for k, v := range src {
		out[k] = v
	}

	return out
}

// ClearScript drops all SCRIPT-scope locals. Called between steps.
func (c *Context) ClearScript() {
	c.script = make(map[string]Value)
}

// Promote copies a SCRIPT-scope variable into SESSION scope so later steps
// can map it.
func (c *Context) Promote(name string) {
	if v, ok := c.script[name]; ok {
		c.session[name] = v
	}
}

// Bind attaches the borrowed connection the context dispatches through.
func (c *Context) Bind(conn remote.Executor) {
	c.conn = conn
}

// Connection returns the bound connection, or nil when none is attached.
func (c *Context) Connection() remote.Executor {
	return c.conn
}

// Dispatch resolves template placeholders in command and executes it on the
// bound connection.
func (c *Context) Dispatch(ctx context.Context, command string, timeout time.Duration) (*remote.Result, error) {
	if c.conn == nil {
		return nil, models.NewFlowError(models.ErrKindConnection,
			"borrow a connection before dispatching commands", models.ErrPoolClosed)
	}

	return c.conn.Execute(ctx, c.Resolve(command), timeout)
}
