package tracer

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DocValue is a binding read back from a document. Value is an int64,
// float64 or bool as decoded from TOML.
type DocValue struct {
	Signature string
	Value     any
}

// DocStep is one step table read back from a document.
type DocStep struct {
	Ordinal        int
	ClassName      string
	MethodName     string
	Locals         map[string]DocValue
	InstanceFields map[string]DocValue
	ClassFields    map[string]DocValue
}

// ParseDocument reads a document produced by Serialize. Steps are
// returned in ordinal order; ordinals must run from 0 without gaps.
func ParseDocument(text string) ([]DocStep, error) {
	var raw map[string]any
	if _, err := toml.Decode(text, &raw); err != nil {
		return nil, fmt.Errorf("parsing trace document: %w", err)
	}

	steps := make([]DocStep, 0, len(raw))
	for key, v := range raw {
		n, ok := strings.CutPrefix(key, "step")
		if !ok {
			return nil, fmt.Errorf("unexpected top-level key %q", key)
		}
		ordinal, err := strconv.Atoi(n)
		if err != nil || ordinal < 0 {
			return nil, fmt.Errorf("bad step key %q", key)
		}
		step, err := parseStep(ordinal, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		steps = append(steps, step)
	}
	slices.SortFunc(steps, func(a, b DocStep) int { return a.Ordinal - b.Ordinal })
	for i, s := range steps {
		if s.Ordinal != i {
			return nil, fmt.Errorf("missing step%d", i)
		}
	}
	return steps, nil
}

func parseStep(ordinal int, v any) (DocStep, error) {
	class, classTable, err := single(v)
	if err != nil {
		return DocStep{}, fmt.Errorf("class: %w", err)
	}
	method, groups, err := single(classTable)
	if err != nil {
		return DocStep{}, fmt.Errorf("method: %w", err)
	}
	step := DocStep{
		Ordinal:        ordinal,
		ClassName:      class,
		MethodName:     method,
		Locals:         map[string]DocValue{},
		InstanceFields: map[string]DocValue{},
		ClassFields:    map[string]DocValue{},
	}
	groupTable, ok := groups.(map[string]any)
	if !ok {
		return DocStep{}, fmt.Errorf("method %q is not a table", method)
	}
	for group, bindings := range groupTable {
		var target map[string]DocValue
		switch group {
		case GroupLocal:
			target = step.Locals
		case GroupInstance:
			target = step.InstanceFields
		case GroupClass:
			target = step.ClassFields
		default:
			return DocStep{}, fmt.Errorf("unknown group %q", group)
		}
		table, ok := bindings.(map[string]any)
		if !ok {
			return DocStep{}, fmt.Errorf("group %q is not a table", group)
		}
		for name, b := range table {
			dv, err := parseBinding(b)
			if err != nil {
				return DocStep{}, fmt.Errorf("%s.%s: %w", group, name, err)
			}
			target[name] = dv
		}
	}
	return step, nil
}

func parseBinding(v any) (DocValue, error) {
	table, ok := v.(map[string]any)
	if !ok {
		return DocValue{}, fmt.Errorf("not a table")
	}
	sig, ok := table["signature"].(string)
	if !ok {
		return DocValue{}, fmt.Errorf("missing signature")
	}
	val, ok := table["value"]
	if !ok {
		return DocValue{}, fmt.Errorf("missing value")
	}
	return DocValue{Signature: sig, Value: val}, nil
}

// single unwraps a table with exactly one key.
func single(v any) (string, any, error) {
	table, ok := v.(map[string]any)
	if !ok || len(table) != 1 {
		return "", nil, fmt.Errorf("want a table with one key")
	}
	for k, v := range table {
		return k, v, nil
	}
	panic("unreachable")
}
