package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/textpos"
)

// collector accumulates the facts one script emits for one file.
type collector struct {
	lines *textpos.LineIndex
	ctx   fact.Context
	facts []fact.Fact
}

func newCollector(src string, ctx fact.Context) *collector {
	return &collector{lines: textpos.NewLineIndex(src), ctx: ctx}
}

// makeEmitFn creates the "emit" host function. Risor scripts cannot
// construct Go structs, so emit accepts a map with a "kind" naming the fact
// variant and builds the fact Go-side.
//
// emit({"kind": "call_reference", "callee": "heal", "node": n})
//
// The range comes from "node" (a tree-sitter node from parse_src) or from
// start_line/start_col/end_line/end_col.
func makeEmitFn(c *collector) *object.Builtin {
	return object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit: %v", err)
		}
		f, err := c.convert(m)
		if err != nil {
			return object.Errorf("emit: %v", err)
		}
		c.facts = append(c.facts, f)
		return object.Nil
	})
}

// convert builds the fact variant named by m["kind"].
func (c *collector) convert(m map[string]object.Object) (fact.Fact, error) {
	span, err := c.span(m)
	if err != nil {
		return nil, err
	}
	kind := getString(m, "kind")
	name := getString(m, "name")

	switch kind {
	case "instance_var_assign":
		rank := c.ctx.Rank
		if s := getString(m, "rank"); s != "" {
			if rank, err = fact.ParseRank(s); err != nil {
				return nil, err
			}
		}
		obj := getStringDefault(m, "object", c.ctx.Object)
		self := c.ctx.IsSelfDefault && obj == c.ctx.Object
		if _, ok := m["self"]; ok {
			self = getBool(m, "self")
		}
		return fact.InstanceVarAssign{Span: span, Object: obj, Name: name, IsSelf: self, Rank: rank}, required(kind, "name", name, "object", obj)
	case "instance_var_ref":
		obj := getStringDefault(m, "object", c.ctx.Object)
		self := c.ctx.IsSelfDefault && obj == c.ctx.Object
		if _, ok := m["self"]; ok {
			self = getBool(m, "self")
		}
		return fact.InstanceVarRef{Span: span, Object: obj, Name: name, IsSelf: self}, required(kind, "name", name, "object", obj)
	case "local_var_decl":
		return fact.LocalVarDecl{Span: span, Name: name}, required(kind, "name", name)
	case "local_var_ref":
		return fact.LocalVarRef{Span: span, Name: name}, required(kind, "name", name)
	case "call_reference":
		callee := getStringDefault(m, "callee", name)
		return fact.CallReference{Span: span, Callee: callee}, required(kind, "callee", callee)
	case "function_decl":
		params, err := getParams(m, "params")
		if err != nil {
			return nil, err
		}
		return fact.FunctionDecl{
			Span:        span,
			Name:        name,
			Params:      params,
			Description: getString(m, "description"),
		}, required(kind, "name", name)
	case "macro_decl":
		return fact.MacroDecl{Span: span, Name: name, Value: getString(m, "value")}, required(kind, "name", name)
	case "macro_ref":
		return fact.MacroRef{Span: span, Name: name}, required(kind, "name", name)
	case "enum_decl":
		return fact.EnumDecl{Span: span, Name: name}, required(kind, "name", name)
	case "enum_ref":
		return fact.EnumRef{Span: span, Name: name}, required(kind, "name", name)
	case "enum_member_decl":
		enum, member := getString(m, "enum"), getString(m, "member")
		return fact.EnumMemberDecl{Span: span, Enum: enum, Member: member, Value: getString(m, "value")},
			required(kind, "enum", enum, "member", member)
	case "enum_member_ref":
		enum, member := getString(m, "enum"), getString(m, "member")
		return fact.EnumMemberRef{Span: span, Enum: enum, Member: member}, required(kind, "enum", enum, "member", member)
	case "fold_range":
		return fact.FoldRange{Span: span, Region: getBool(m, "region")}, nil
	case "self_scope":
		obj := getString(m, "object")
		return fact.SelfScope{Span: span, Object: obj}, required(kind, "object", obj)
	case "":
		return nil, fmt.Errorf("missing kind")
	default:
		return nil, fmt.Errorf("unknown fact kind %q", kind)
	}
}

// span resolves the fact's source range.
func (c *collector) span(m map[string]object.Object) (fact.Span, error) {
	if v, ok := m["node"]; ok {
		proxy, ok := v.(*object.Proxy)
		if !ok {
			return fact.Span{}, fmt.Errorf("node must be a proxy (Node), got %s", v.Type())
		}
		node, ok := proxy.Interface().(*sitter.Node)
		if !ok {
			return fact.Span{}, fmt.Errorf("expected *sitter.Node, got %T", proxy.Interface())
		}
		return fact.At(c.lines.RangeOf(int(node.StartByte()), int(node.EndByte()))), nil
	}
	if _, ok := m["start_line"]; !ok {
		return fact.Span{}, fmt.Errorf("fact needs a node or start_line")
	}
	start := textpos.Position{Line: getInt(m, "start_line"), Character: getInt(m, "start_col")}
	end := start
	if _, ok := m["end_line"]; ok {
		end = textpos.Position{Line: getInt(m, "end_line"), Character: getInt(m, "end_col")}
	}
	if end.Before(start) {
		return fact.Span{}, fmt.Errorf("range end %s before start %s", end, start)
	}
	return fact.At(textpos.Range{Start: start, End: end}), nil
}

// required checks that every named field is non-empty. Fields come in
// (name, value) pairs.
func required(kind string, fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			return fmt.Errorf("%s: missing %s", kind, fields[i])
		}
	}
	return nil
}

// getParams reads a parameter list. Entries are either names or maps with
// "name" and "optional".
func getParams(m map[string]object.Object, key string) ([]fact.Param, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.(*object.List)
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %s", key, v.Type())
	}
	var out []fact.Param
	for _, item := range list.Value() {
		switch item := item.(type) {
		case *object.String:
			out = append(out, fact.Param{Name: item.Value()})
		case *object.Map:
			pm := item.Value()
			out = append(out, fact.Param{Name: getString(pm, "name"), Optional: getBool(pm, "optional")})
		default:
			return nil, fmt.Errorf("%s: unexpected %s", key, item.Type())
		}
	}
	return out, nil
}

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringDefault(m map[string]object.Object, key, def string) string {
	v := getString(m, key)
	if v == "" {
		return def
	}
	return v
}

func getInt(m map[string]object.Object, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if i, ok := v.(*object.Int); ok {
		return int(i.Value())
	}
	if f, ok := v.(*object.Float); ok {
		return int(f.Value())
	}
	return 0
}

func getBool(m map[string]object.Object, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	if b, ok := v.(*object.Bool); ok {
		return b.Value()
	}
	return false
}
