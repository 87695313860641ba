package router

import (
	"fmt"
	"strings"
)

// Pattern is a compiled path template such as /users/{id} or /files/{proxy+}.
// A {name} segment captures one non-empty path segment; a {name+} segment
// must come last and captures the rest of the path, slashes included.
type Pattern struct {
	template string
	segments []segment
}

type segment struct {
	literal string
	param   string
	greedy  bool
}

// Compile parses a path template
func Compile(template string) (*Pattern, error) {
	if !strings.HasPrefix(template, "/") {
		return nil, fmt.Errorf("path template %q must start with /", template)
	}

	parts := strings.Split(strings.TrimPrefix(template, "/"), "/")
	p := &Pattern{template: template, segments: make([]segment, 0, len(parts))}
	seen := make(map[string]bool)

	for i, part := range parts {
		hasOpen, hasClose := strings.Contains(part, "{"), strings.Contains(part, "}")
		if !hasOpen && !hasClose {
			p.segments = append(p.segments, segment{literal: part})
			continue
		}
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") || strings.Count(part, "{") != 1 || strings.Count(part, "}") != 1 {
			return nil, fmt.Errorf("path template %q: placeholder must span a whole segment, got %q", template, part)
		}

		name := part[1 : len(part)-1]
		greedy := strings.HasSuffix(name, "+")
		name = strings.TrimSuffix(name, "+")
		if name == "" {
			return nil, fmt.Errorf("path template %q: empty placeholder name", template)
		}
		if greedy && i != len(parts)-1 {
			return nil, fmt.Errorf("path template %q: greedy placeholder {%s+} must be the last segment", template, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("path template %q: duplicate placeholder {%s}", template, name)
		}
		seen[name] = true
		p.segments = append(p.segments, segment{param: name, greedy: greedy})
	}

	return p, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(template string) *Pattern {
	p, err := Compile(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Template returns the source template
func (p *Pattern) Template() string {
	return p.template
}

// Params returns the placeholder names in template order
func (p *Pattern) Params() []string {
	var names []string
	for _, s := range p.segments {
		if s.param != "" {
			names = append(names, s.param)
		}
	}
	return names
}

// Match matches a concrete path against the pattern. The whole path must
// match; literal segments compare case-insensitively.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	params := make(map[string]string)

	for i, s := range p.segments {
		if i >= len(parts) {
			return nil, false
		}
		switch {
		case s.greedy:
			rest := strings.Join(parts[i:], "/")
			if rest == "" {
				return nil, false
			}
			params[s.param] = rest
			return params, true
		case s.param != "":
			if parts[i] == "" {
				return nil, false
			}
			params[s.param] = parts[i]
		default:
			if !strings.EqualFold(s.literal, parts[i]) {
				return nil, false
			}
		}
	}

	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}
