package tracer

// Equal reports whether two snapshots record the same method and the same
// bindings. Values compare by tag, signature and raw bits, so references
// compare by identity and floats by IEEE bit pattern (NaN equals NaN).
func Equal(a, b StepSnapshot) bool {
	return a.ClassName == b.ClassName &&
		a.MethodName == b.MethodName &&
		bindingsEqual(a.Locals, b.Locals) &&
		bindingsEqual(a.InstanceFields, b.InstanceFields) &&
		bindingsEqual(a.ClassFields, b.ClassFields)
}

func bindingsEqual(a, b Bindings) bool {
	if len(a) != len(b) {
		return false
	}
	for name, va := range a {
		vb, ok := b[name]
		if !ok || !valueEqual(va, vb) {
			return false
		}
	}
	return true
}

func valueEqual(a, b TypedValue) bool {
	if a.Signature != b.Signature || a.Tag() != b.Tag() {
		return false
	}
	if a.Payload == nil || b.Payload == nil {
		return a.Payload == nil && b.Payload == nil
	}
	return a.Payload.bits() == b.Payload.bits()
}
