package tracer

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

// MethodMetadata is what the engine needs to know about a method.
type MethodMetadata struct {
	Class          host.ClassID
	ClassSignature string
	Name           string
	Locals         []host.LocalVariable
	// Traceable and Receiver are the scope filter verdicts for the
	// declaring class.
	Traceable bool
	Receiver  bool
}

// FieldMetadata is a declared field with its identity.
type FieldMetadata struct {
	ID host.FieldID
	host.FieldInfo
}

// ClassMetadata lists the fields a class declares.
type ClassMetadata struct {
	Fields []FieldMetadata
}

// MetadataStore resolves method and class metadata. Entries live for the
// whole process; there is no invalidation.
type MetadataStore interface {
	Method(id host.MethodID) (*MethodMetadata, error)
	Class(id host.ClassID) (*ClassMetadata, error)
}

// MetadataCache is the MetadataStore backed by a host. Concurrent first
// lookups of a key share one round of host calls; failed lookups are not
// cached and are retried on the next request.
type MetadataCache struct {
	host  host.Host
	scope *ScopeFilter
	errs  hostErrors

	methods sync.Map // host.MethodID -> *MethodMetadata
	classes sync.Map // host.ClassID -> *ClassMetadata
	group   singleflight.Group
}

var _ MetadataStore = (*MetadataCache)(nil)

// NewMetadataCache creates an empty cache.
func NewMetadataCache(h host.Host, scope *ScopeFilter, log *logging.Logger, metrics *Metrics) *MetadataCache {
	return &MetadataCache{host: h, scope: scope, errs: hostErrors{log: log, metrics: metrics}}
}

// Method returns the metadata of a method, loading it on first use.
func (c *MetadataCache) Method(id host.MethodID) (*MethodMetadata, error) {
	if v, ok := c.methods.Load(id); ok {
		return v.(*MethodMetadata), nil
	}
	v, err, _ := c.group.Do("method:"+strconv.FormatUint(uint64(id), 10), func() (any, error) {
		if v, ok := c.methods.Load(id); ok {
			return v, nil
		}
		md, err := c.loadMethod(id)
		if err != nil {
			return nil, err
		}
		c.methods.Store(id, md)
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MethodMetadata), nil
}

func (c *MetadataCache) loadMethod(id host.MethodID) (*MethodMetadata, error) {
	class, err := c.host.MethodDeclaringClass(id)
	if err != nil {
		return nil, fmt.Errorf("declaring class of method %d: %w", id, err)
	}
	sig, err := c.host.ClassSignature(class)
	if err != nil {
		return nil, fmt.Errorf("signature of class %d: %w", class, err)
	}
	name, err := c.host.MethodName(id)
	if err != nil {
		return nil, fmt.Errorf("name of method %d: %w", id, err)
	}
	locals, err := c.host.LocalVariableTable(id)
	if err != nil {
		// Methods without debug information still trace their fields.
		c.errs.report(err, zap.String("method", name), zap.String("class", sig))
		locals = nil
	}
	return &MethodMetadata{
		Class:          class,
		ClassSignature: sig,
		Name:           name,
		Locals:         locals,
		Traceable:      c.scope.IsTraceable(sig),
		Receiver:       c.scope.IsReceiver(sig),
	}, nil
}

// Class returns the field table of a class, loading it on first use.
func (c *MetadataCache) Class(id host.ClassID) (*ClassMetadata, error) {
	if v, ok := c.classes.Load(id); ok {
		return v.(*ClassMetadata), nil
	}
	v, err, _ := c.group.Do("class:"+strconv.FormatUint(uint64(id), 10), func() (any, error) {
		if v, ok := c.classes.Load(id); ok {
			return v, nil
		}
		cm, err := c.loadClass(id)
		if err != nil {
			return nil, err
		}
		c.classes.Store(id, cm)
		return cm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ClassMetadata), nil
}

func (c *MetadataCache) loadClass(id host.ClassID) (*ClassMetadata, error) {
	ids, err := c.host.ClassFields(id)
	if err != nil {
		return nil, fmt.Errorf("fields of class %d: %w", id, err)
	}
	cm := &ClassMetadata{Fields: make([]FieldMetadata, 0, len(ids))}
	for _, f := range ids {
		info, err := c.host.Field(f)
		if err != nil {
			c.errs.report(err, zap.Uint64("field", uint64(f)))
			continue
		}
		cm.Fields = append(cm.Fields, FieldMetadata{ID: f, FieldInfo: info})
	}
	return cm, nil
}

// hostErrors logs and counts failed host calls.
type hostErrors struct {
	log     *logging.Logger
	metrics *Metrics
}

func (h hostErrors) report(err error, fields ...zap.Field) {
	op := host.OpOf(err)
	if op == "" {
		op = "unknown"
	}
	h.metrics.HostErrors.WithLabelValues(op).Inc()
	h.log.Warn("host call failed", append([]zap.Field{
		zap.String("op", op),
		zap.Stringer("code", host.CodeOf(err)),
		zap.Error(err),
	}, fields...)...)
}
