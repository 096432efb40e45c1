package tracer

import (
	"regexp"
	"strconv"

	"github.com/graphery/executor/internal/script"
)

// watched is one name/value pair produced by a watch expression.
type watched struct {
	name  string
	value script.Value
}

// variable is a watch expression evaluated in a traced frame.
type variable interface {
	values(in *script.Interp, f *script.Frame) []watched
}

// common watches the value of an expression. Expressions that fail to
// evaluate, for instance before the name is bound, produce nothing.
type common struct{ source string }

func (c common) values(in *script.Interp, f *script.Frame) []watched {
	v, err := in.EvalExpr(f, c.source)
	if err != nil {
		return nil
	}
	return []watched{{name: c.source, value: v}}
}

// exploding watches an expression and its items: keys of a mapping,
// indices of a sequence, attributes of anything else.
type exploding struct{ source string }

var plainExpr = regexp.MustCompile(`^[\w.]+(\[[^\[\]]*\])*$`)

func (e exploding) values(in *script.Interp, f *script.Frame) []watched {
	v, err := in.EvalExpr(f, e.source)
	if err != nil {
		return nil
	}
	base := e.source
	if !plainExpr.MatchString(base) {
		base = "(" + base + ")"
	}
	out := []watched{{name: e.source, value: v}}
	switch x := v.(type) {
	case *script.Dict:
		for _, kv := range x.Items() {
			k, err := in.Repr(kv[0])
			if err != nil {
				continue
			}
			out = append(out, watched{name: base + "[" + k + "]", value: kv[1]})
		}
	case *script.List:
		out = appendIndexed(out, base, x.Items)
	case *script.Tuple:
		out = appendIndexed(out, base, x.Items)
	case *script.Deque:
		out = appendIndexed(out, base, x.Items)
	case *script.Instance:
		for _, b := range x.Attrs.Bindings() {
			out = append(out, watched{name: base + "." + b.Name, value: b.Value})
		}
	}
	return out
}

func appendIndexed(out []watched, base string, items []script.Value) []watched {
	for i, item := range items {
		out = append(out, watched{name: base + "[" + strconv.Itoa(i) + "]", value: item})
	}
	return out
}
