package execctx

import (
	"strings"

	"github.com/shellflow/shellflow/pkg/models"
)

// Snapshot format: a flat map of variable name to "<type>:<value>". Only
// SESSION scope is captured; SCRIPT scope is step-local and GLOBAL scope is
// re-derived from the host at resume time. Sensitive values are replaced by
// a redaction marker so cleartext secrets never reach a store.

const redactedValue = "<redacted>"

// EncodeSnapshot is a pure function producing the persistable view of the
// context's SESSION scope.
func EncodeSnapshot(c *Context) map[string]string {
	snapshot := make(map[string]string, len(c.session))

	for name, value := range c.session {
		raw := value.Raw
		if value.Sensitive {
			raw = redactedValue
		}

		snapshot[name] = string(value.Type) + ":" + raw
	}

	return snapshot
}

// DecodeSnapshot is the pure inverse of EncodeSnapshot: it rebuilds a
// context whose SESSION scope holds the snapshot's variables. Entries without
// a recognized type tag decode as strings.
func DecodeSnapshot(snapshot map[string]string) *Context {
	c := New()

	for name, tagged := range snapshot {
		valueType := models.VariableTypeString
		raw := tagged

		if idx := strings.IndexByte(tagged, ':'); idx > 0 {
			switch models.VariableType(tagged[:idx]) {
			case models.VariableTypeString, models.VariableTypeNumber, models.VariableTypeBoolean:
				valueType = models.VariableType(tagged[:idx])
				raw = tagged[idx+1:]
			}
		}

		if raw == redactedValue {
			// A redacted secret is unrecoverable; resume re-prompts for it.
			continue
		}

		c.session[name] = Value{Raw: raw, Type: valueType}
	}

	return c
}
