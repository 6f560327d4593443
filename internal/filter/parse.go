package filter

import (
	"fmt"
	"strings"

	"ffwd/internal/model"
)

// Parse compiles nested-array filter expression decoded from TOML or YAML.
// Params: raw expression such as ["and", ["key", "cpu"], ["=", "env", "prod"]]; nil means True.
// Returns: compiled filter tree or path-qualified parse error.
func Parse(raw any) (Filter, error) {
	if raw == nil {
		return True{}, nil
	}
	return parseNode("filter", raw)
}

// parseNode compiles one expression node.
// Params: path for errors; raw node value.
// Returns: compiled filter or error.
func parseNode(path string, raw any) (Filter, error) {
	items, ok := asList(raw)
	if !ok {
		return nil, fmt.Errorf("%s: expected array, got %T", path, raw)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: empty expression", path)
	}

	op, ok := items[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s[0]: operator must be a string, got %T", path, items[0])
	}
	args := items[1:]

	switch strings.ToLower(strings.TrimSpace(op)) {
	case "true":
		if err := expectArgs(path, op, args, 0); err != nil {
			return nil, err
		}
		return True{}, nil
	case "false":
		if err := expectArgs(path, op, args, 0); err != nil {
			return nil, err
		}
		return False{}, nil
	case "and":
		children, err := parseChildren(path, args)
		if err != nil {
			return nil, err
		}
		return And{Children: children}, nil
	case "or":
		children, err := parseChildren(path, args)
		if err != nil {
			return nil, err
		}
		return Or{Children: children}, nil
	case "not":
		if err := expectArgs(path, op, args, 1); err != nil {
			return nil, err
		}
		child, err := parseNode(fmt.Sprintf("%s[1]", path), args[0])
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case "key":
		values, err := stringArgs(path, op, args, 1)
		if err != nil {
			return nil, err
		}
		return MatchKey{Value: values[0]}, nil
	case "glob":
		values, err := stringArgs(path, op, args, 1)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(values[0]) == "" {
			return nil, fmt.Errorf("%s[1]: empty glob pattern", path)
		}
		return NewKeyGlob(values[0]), nil
	case "=":
		values, err := stringArgs(path, op, args, 2)
		if err != nil {
			return nil, err
		}
		return MatchTag{Key: values[0], Value: values[1]}, nil
	case "type":
		values, err := stringArgs(path, op, args, 1)
		if err != nil {
			return nil, err
		}
		switch kind := model.Kind(strings.ToLower(values[0])); kind {
		case model.KindMetric, model.KindEvent:
			return Type{Kind: kind}, nil
		default:
			return nil, fmt.Errorf("%s[1]: unsupported type %q (must be metric or event)", path, values[0])
		}
	default:
		return nil, fmt.Errorf("%s[0]: unsupported operator %q", path, op)
	}
}

func parseChildren(path string, args []any) ([]Filter, error) {
	children := make([]Filter, 0, len(args))
	for idx, arg := range args {
		child, err := parseNode(fmt.Sprintf("%s[%d]", path, idx+1), arg)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func expectArgs(path, op string, args []any, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s: %q expects %d argument(s), got %d", path, op, want, len(args))
	}
	return nil
}

func stringArgs(path, op string, args []any, want int) ([]string, error) {
	if err := expectArgs(path, op, args, want); err != nil {
		return nil, err
	}
	out := make([]string, 0, want)
	for idx, arg := range args {
		value, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected string, got %T", path, idx+1, arg)
		}
		out = append(out, value)
	}
	return out, nil
}

// asList accepts decoder-specific array shapes.
func asList(raw any) ([]any, bool) {
	switch typed := raw.(type) {
	case []any:
		return typed, true
	case []string:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, item)
		}
		return out, true
	default:
		return nil, false
	}
}
