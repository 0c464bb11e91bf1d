package execctx

import "strings"

// Resolve performs single-pass ${name} substitution over template using the
// merged scope view. Placeholders that resolve to nothing are left verbatim
// so missing optional variables degrade gracefully. Values substituted in are
// not re-scanned, which makes Resolve idempotent on fully resolved output.
func (c *Context) Resolve(template string) string {
	var out strings.Builder

	out.Grow(len(template))

	for i := 0; i < len(template); {
		if template[i] == '$' && i+1 < len(template) && template[i+1] == '{' {
			end := strings.IndexByte(template[i+2:], '}')
			if end >= 0 {
				name := template[i+2 : i+2+end]
				if value, ok := c.Get(name); ok && validPlaceholderName(name) {
					out.WriteString(value.Raw)
					i += end + 3

					continue
				}
			}
		}

		out.WriteByte(template[i])
		i++
	}

	return out.String()
}

func validPlaceholderName(name string) bool {
	if name == "" {
		return false
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}

	return true
}
