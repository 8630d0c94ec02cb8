package tracer

import "strings"

// DefaultExcludePrefixes are the class signature prefixes never traced.
var DefaultExcludePrefixes = []string{"Ljava/", "Ljdk/", "Lsun/"}

// DefaultReceiverSuffix identifies the receiver type by the end of its
// class signature.
const DefaultReceiverSuffix = "$JTraceReceiver;"

// ScopeFilter decides which classes participate in tracing.
type ScopeFilter struct {
	excludes []string
	suffix   string
}

// NewScopeFilter builds a filter. An empty suffix never matches.
func NewScopeFilter(excludes []string, receiverSuffix string) *ScopeFilter {
	return &ScopeFilter{excludes: append([]string(nil), excludes...), suffix: receiverSuffix}
}

// IsReceiver reports whether signature names the receiver type.
func (f *ScopeFilter) IsReceiver(signature string) bool {
	return f.suffix != "" && strings.HasSuffix(signature, f.suffix)
}

// IsTraceable reports whether steps in class signature are recorded.
func (f *ScopeFilter) IsTraceable(signature string) bool {
	for _, p := range f.excludes {
		if strings.HasPrefix(signature, p) {
			return false
		}
	}
	return !f.IsReceiver(signature)
}
