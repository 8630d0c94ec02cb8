package tracer

import (
	"fmt"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

// SnapshotBuilder reads the state visible at a step event.
type SnapshotBuilder struct {
	host host.Host
	meta MetadataStore
	errs hostErrors
}

// NewSnapshotBuilder creates a builder reading through h.
func NewSnapshotBuilder(h host.Host, meta MetadataStore, log *logging.Logger, metrics *Metrics) *SnapshotBuilder {
	return &SnapshotBuilder{host: h, meta: meta, errs: hostErrors{log: log, metrics: metrics}}
}

// Build captures the state of the top frame of thread, executing method
// at loc. It reports false when the method's class is out of scope.
//
// Failed reads are logged and recorded as zero values. Only locals with
// no live value are left out; every declared field is recorded.
func (b *SnapshotBuilder) Build(thread host.ThreadID, method host.MethodID, loc host.Location) (StepSnapshot, bool, error) {
	md, err := b.meta.Method(method)
	if err != nil {
		return StepSnapshot{}, false, fmt.Errorf("method metadata: %w", err)
	}
	if !md.Traceable {
		return StepSnapshot{}, false, nil
	}

	snap := StepSnapshot{
		ClassName:      md.ClassSignature,
		MethodName:     md.Name,
		Locals:         Bindings{},
		InstanceFields: Bindings{},
		ClassFields:    Bindings{},
	}
	for _, lv := range md.Locals {
		if !lv.LiveAt(loc) {
			continue
		}
		v, err := b.readLocal(thread, lv)
		if host.IsAbsent(err) {
			continue
		}
		if err != nil {
			b.errs.report(err, zap.String("local", lv.Name), zap.String("method", md.Name))
			v = ZeroValue(lv.Signature)
		}
		snap.Locals[lv.Name] = v
	}

	this, hasThis := snap.Locals["this"]
	instance := host.NullObject
	if hasThis {
		id, err := b.host.CurrentInstance(thread, 0)
		if err != nil {
			b.errs.report(err, zap.String("method", md.Name))
			id = host.NullObject
		}
		instance = id
		this.Payload = Reference(id)
		snap.Locals["this"] = this
	}

	cm, err := b.meta.Class(md.Class)
	if err != nil {
		b.errs.report(err, zap.String("class", md.ClassSignature))
		return snap, true, nil
	}
	for _, f := range cm.Fields {
		if !f.Static && !hasThis {
			continue
		}
		target, inst := snap.InstanceFields, instance
		if f.Static {
			target, inst = snap.ClassFields, host.NullObject
		}
		v, err := b.readField(f, inst)
		if err != nil {
			b.errs.report(err, zap.String("field", f.Name), zap.String("class", md.ClassSignature))
			v = ZeroValue(f.Signature)
		}
		target[f.Name] = v
	}
	return snap, true, nil
}

func (b *SnapshotBuilder) readLocal(thread host.ThreadID, lv host.LocalVariable) (TypedValue, error) {
	return read(lv.Signature, localReader{b.host, thread, lv.Slot})
}

func (b *SnapshotBuilder) readField(f FieldMetadata, instance host.ObjectID) (TypedValue, error) {
	return read(f.Signature, fieldReader{b.host, f.ID, instance})
}

// reader is the typed read primitive set shared by locals and fields.
type reader interface {
	Int() (int32, error)
	Long() (int64, error)
	Float() (float32, error)
	Double() (float64, error)
	Object() (host.ObjectID, error)
	// op names the host primitive that reads a value of tag.
	op(tag Tag) string
}

type localReader struct {
	h      host.Host
	thread host.ThreadID
	slot   int
}

func (r localReader) Int() (int32, error) { return r.h.LocalInt(r.thread, 0, r.slot) }
func (r localReader) Long() (int64, error) { return r.h.LocalLong(r.thread, 0, r.slot) }
func (r localReader) Float() (float32, error) { return r.h.LocalFloat(r.thread, 0, r.slot) }
func (r localReader) Double() (float64, error) {
	return r.h.LocalDouble(r.thread, 0, r.slot)
}
func (r localReader) Object() (host.ObjectID, error) { return r.h.LocalObject(r.thread, 0, r.slot) }
func (r localReader) op(tag Tag) string { return "Local" + primitive(tag) }

type fieldReader struct {
	h        host.Host
	field    host.FieldID
	instance host.ObjectID
}

func (r fieldReader) Int() (int32, error) { return r.h.FieldInt(r.field, r.instance) }
func (r fieldReader) Long() (int64, error) { return r.h.FieldLong(r.field, r.instance) }
func (r fieldReader) Float() (float32, error) { return r.h.FieldFloat(r.field, r.instance) }
func (r fieldReader) Double() (float64, error) {
	return r.h.FieldDouble(r.field, r.instance)
}
func (r fieldReader) Object() (host.ObjectID, error) { return r.h.FieldObject(r.field, r.instance) }
func (r fieldReader) op(tag Tag) string { return "Field" + primitive(tag) }

// primitive is the suffix of the typed host read used for tag.
func primitive(tag Tag) string {
	switch tag {
	case TagLong:
		return "Long"
	case TagFloat:
		return "Float"
	case TagDouble:
		return "Double"
	case TagReference:
		return "Object"
	}
	return "Int"
}

// read selects the primitive by TagOf(signature).
func read(signature string, r reader) (TypedValue, error) {
	var p Payload
	switch tag := TagOf(signature); tag {
	case TagLong:
		v, err := r.Long()
		if err != nil {
			return TypedValue{}, err
		}
		p = Long(v)
	case TagFloat:
		v, err := r.Float()
		if err != nil {
			return TypedValue{}, err
		}
		p = Float(v)
	case TagDouble:
		v, err := r.Double()
		if err != nil {
			return TypedValue{}, err
		}
		p = Double(v)
	case TagReference:
		v, err := r.Object()
		if err != nil {
			return TypedValue{}, err
		}
		p = Reference(v)
	default:
		v, err := r.Int()
		if err != nil {
			return TypedValue{}, err
		}
		if p, err = narrow(tag, v); err != nil {
			return TypedValue{}, host.NewError(r.op(tag), host.CodeTypeMismatch, "%s value %d: %v", signature, v, err)
		}
	}
	return TypedValue{Signature: signature, Payload: p}, nil
}

// narrow converts the int carried by the host for int-like types.
func narrow(tag Tag, v int32) (Payload, error) {
	switch tag {
	case TagShort:
		s, err := safecast.Conv[int16](v)
		return Short(s), err
	case TagByte:
		b, err := safecast.Conv[int8](v)
		return Byte(b), err
	case TagChar:
		c, err := safecast.Conv[uint16](v)
		return Char(c), err
	case TagBoolean:
		return Boolean(v != 0), nil
	}
	return Int(v), nil
}
