package logging

import (
	"log/slog"
	"slices"
	"strings"
)

// collected is the handler state shared by the outputs that flatten
// attributes themselves (buffer and journal). Group names apply to every
// attribute, including ones added before the group.
type collected struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (c collected) enabled(level slog.Level) bool {
	return level >= c.level.Level()
}

func (c collected) withAttrs(attrs []slog.Attr) collected {
	c.attrs = append(slices.Clip(c.attrs), attrs...)
	return c
}

func (c collected) withGroup(name string) collected {
	if name != "" {
		c.groups = append(slices.Clip(c.groups), name)
	}
	return c
}

// flatten calls fn for every leaf attribute, handler attributes first, with
// group names joined to the key by sep.
func (c collected) flatten(r slog.Record, sep string, fn func(key string, v slog.Value)) {
	var visit func(prefix string, a slog.Attr)
	visit = func(prefix string, a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		v := a.Value.Resolve()
		key := a.Key
		if prefix != "" && key != "" {
			key = prefix + sep + key
		} else if key == "" {
			key = prefix
		}
		if v.Kind() == slog.KindGroup {
			for _, g := range v.Group() {
				visit(key, g)
			}
			return
		}
		fn(key, v)
	}

	prefix := strings.Join(c.groups, sep)
	for _, a := range c.attrs {
		visit(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		visit(prefix, a)
		return true
	})
}
