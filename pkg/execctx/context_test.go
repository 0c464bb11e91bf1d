package execctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
)

func TestScopePrecedence(t *testing.T) {
	c := New()
	c.Set("region", "global-default", models.VariableTypeString, ScopeGlobal)

	value, ok := c.Get("region")
	require.True(t, ok)
	assert.Equal(t, "global-default", value.Raw)

	c.Set("region", "session-value", models.VariableTypeString, ScopeSession)

	value, _ = c.Get("region")
	assert.Equal(t, "session-value", value.Raw)

	c.Set("region", "script-value", models.VariableTypeString, ScopeScript)

	value, _ = c.Get("region")
	assert.Equal(t, "script-value", value.Raw)

	c.ClearScript()

	value, _ = c.Get("region")
	assert.Equal(t, "session-value", value.Raw)
}

func TestGetUnknownVariable(t *testing.T) {
	c := New()

	_, ok := c.Get("nope")
	assert.False(t, ok)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestClearScriptLeavesOtherScopes(t *testing.T) {
	c := New()
	c.Set("a", "1", models.VariableTypeNumber, ScopeScript)
	c.Set("b", "2", models.VariableTypeNumber, ScopeSession)
	c.Set("c", "3", models.VariableTypeNumber, ScopeGlobal)

	c.ClearScript()

	assert.Empty(t, c.ScopeValues(ScopeScript))
	assert.Len(t, c.ScopeValues(ScopeSession), 1)
	assert.Len(t, c.ScopeValues(ScopeGlobal), 1)
}

func TestPromote(t *testing.T) {
	c := New()
	c.Set("os_family", "debian", models.VariableTypeString, ScopeScript)

	c.Promote("os_family")
	c.ClearScript()

	value, ok := c.Get("os_family")
	require.True(t, ok)
	assert.Equal(t, "debian", value.Raw)

	// Promoting an absent name is a no-op.
	c.Promote("missing")

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestScopeValuesReturnsCopy(t *testing.T) {
	c := New()
	c.Set("key", "original", models.VariableTypeString, ScopeSession)

	values := c.ScopeValues(ScopeSession)
	values["key"] = Value{Raw: "mutated"}

	actual, _ := c.Get("key")
	assert.Equal(t, "original", actual.Raw)
}

type dispatchRecorder struct {
	command string
	result  *remote.Result
}

func (d *dispatchRecorder) Execute(_ context.Context, command string, _ time.Duration) (*remote.Result, error) {
	d.command = command

	return d.result, nil
}

func TestDispatchResolvesPlaceholders(t *testing.T) {
	recorder := &dispatchRecorder{result: &remote.Result{ExitCode: 0, Stdout: "ok"}}

	c := New()
	c.Set("pkg", "nginx", models.VariableTypeString, ScopeSession)
	c.Bind(recorder)

	result, err := c.Dispatch(context.Background(), "apt-get install -y ${pkg}", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "apt-get install -y nginx", recorder.command)
	assert.True(t, result.Success())
}

func TestDispatchWithoutConnection(t *testing.T) {
	c := New()

	_, err := c.Dispatch(context.Background(), "uname -a", time.Second)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConnection, models.KindOf(err))
}
