package native

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ErrNumberFormat is returned by ParseInt for input Integer.parseInt rejects.
var ErrNumberFormat = errors.New("number format")

// Integer represents a java.lang.Integer.
type Integer struct {
	Value int32
}

// ParseInt implements Integer.parseInt(String) for radix 10.
func ParseInt(s string) (int32, error) {
	if s == "" || s == "+" || s == "-" {
		return 0, ErrNumberFormat
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, ErrNumberFormat
	}
	return int32(v), nil
}

// StringBuilder represents a java.lang.StringBuilder.
type StringBuilder struct {
	sb strings.Builder
}

// Append adds s to the end of the builder.
func (b *StringBuilder) Append(s string) *StringBuilder {
	b.sb.WriteString(s)
	return b
}

// Length returns the length in UTF-16 code units.
func (b *StringBuilder) Length() int32 {
	return Length(b.sb.String())
}

func (b *StringBuilder) String() string {
	return b.sb.String()
}

// Length returns the length of s in UTF-16 code units, as String.length does.
func Length(s string) int32 {
	return int32(len(utf16.Encode([]rune(s))))
}

// CharAt returns the UTF-16 code unit at index i.
func CharAt(s string, i int32) (uint16, bool) {
	units := utf16.Encode([]rune(s))
	if i < 0 || int(i) >= len(units) {
		return 0, false
	}
	return units[i], true
}

// Substring returns the UTF-16 code units begin..end-1 of s, reporting
// false when the range is out of bounds.
func Substring(s string, begin, end int32) (string, bool) {
	units := utf16.Encode([]rune(s))
	if begin < 0 || end > int32(len(units)) || begin > end {
		return "", false
	}
	return string(utf16.Decode(units[begin:end])), true
}

// StringHashCode computes String.hashCode: s[0]*31^(n-1) + ... + s[n-1]
// over UTF-16 code units with int overflow.
func StringHashCode(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// FormatFloat renders a float the way Float.toString does.
func FormatFloat(v float32) string {
	return formatJava(float64(v), 32)
}

// FormatDouble renders a double the way Double.toString does.
func FormatDouble(v float64) string {
	return formatJava(v, 64)
}

func formatJava(v float64, bitSize int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}

	abs := math.Abs(v)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(v, 'f', -1, bitSize)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	// Computerized scientific notation: d.dddE[-]n
	s := strconv.FormatFloat(v, 'E', -1, bitSize)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	n, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(n)
}

// CharString converts a UTF-16 code unit to a Go string.
func CharString(c uint16) string {
	return string(utf16.Decode([]uint16{c}))
}
