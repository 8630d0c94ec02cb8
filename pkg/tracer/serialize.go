package tracer

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Binding groups, in document order.
const (
	GroupLocal    = "local"
	GroupInstance = "instance"
	GroupClass    = "class"
)

// Serialize renders steps as a TOML document, one table per step:
//
//	[step0."Lcom/example/Foo;"."bar"]
//	local."x".signature = "I"
//	local."x".value = 5
//
// Bindings are grouped local, instance, class and sorted by name within a
// group. No steps render as the empty string.
func Serialize(steps []StepSnapshot) string {
	var sb strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&sb, "[step%d.%s.%s]\n", i, quoteKey(s.ClassName), quoteKey(s.MethodName))
		writeGroup(&sb, GroupLocal, s.Locals)
		writeGroup(&sb, GroupInstance, s.InstanceFields)
		writeGroup(&sb, GroupClass, s.ClassFields)
	}
	return sb.String()
}

func writeGroup(sb *strings.Builder, group string, b Bindings) {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v := b[name]
		key := group + "." + quoteKey(name)
		fmt.Fprintf(sb, "%s.signature = %s\n", key, quoteKey(v.Signature))
		fmt.Fprintf(sb, "%s.value = %s\n", key, FormatValue(v))
	}
}

// FormatValue renders a value as a TOML literal.
func FormatValue(v TypedValue) string {
	switch p := v.Payload.(type) {
	case Int:
		return strconv.FormatInt(int64(p), 10)
	case Long:
		return strconv.FormatInt(int64(p), 10)
	case Short:
		return strconv.FormatInt(int64(p), 10)
	case Byte:
		return strconv.FormatInt(int64(p), 10)
	case Char:
		return strconv.FormatUint(uint64(p), 10)
	case Boolean:
		return strconv.FormatBool(bool(p))
	case Float:
		return formatFloat(float64(p), 32)
	case Double:
		return formatFloat(float64(p), 64)
	case Reference:
		return strconv.FormatUint(uint64(p), 10)
	}
	return "0"
}

// formatFloat writes the shortest decimal that reads back as the same
// value, always with a fraction or exponent so TOML parses it as a float.
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quoteKey renders s as a TOML basic string.
func quoteKey(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '"':
			sb.WriteString(`\"`)
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '\b':
			sb.WriteString(`\b`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\f':
			sb.WriteString(`\f`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\u%04X`, r)
		case r == utf8.RuneError && size == 1:
			// Invalid bytes keep their value so distinct names stay distinct.
			fmt.Fprintf(&sb, `\u%04X`, s[i-1])
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
