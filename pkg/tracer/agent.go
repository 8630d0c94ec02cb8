package tracer

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

// Options configure an Agent. Zero values select the defaults.
type Options struct {
	ExcludePrefixes []string
	ReceiverSuffix  string
	DedupFields     []string
	DedupDefault    bool

	// OutputFile receives documents when the receiver has no receive
	// callback. Empty means Stdout.
	OutputFile string
	Stdout     io.Writer

	Logger     *logging.Logger
	Registerer prometheus.Registerer
}

// Agent handles host events: receiver start and end drive the session,
// and every step of a traced method while active becomes a snapshot.
type Agent struct {
	host    host.Host
	meta    *MetadataCache
	builder *SnapshotBuilder
	session *Session
	log     *logging.Logger
	metrics *Metrics
	errs    hostErrors
}

var _ host.Listener = (*Agent)(nil)

// NewAgent wires the engine to h. Call Attach to start receiving events.
func NewAgent(h host.Host, opts Options) *Agent {
	if opts.ExcludePrefixes == nil {
		opts.ExcludePrefixes = DefaultExcludePrefixes
	}
	if opts.ReceiverSuffix == "" {
		opts.ReceiverSuffix = DefaultReceiverSuffix
	}
	if len(opts.DedupFields) == 0 {
		opts.DedupFields = DefaultDedupFields
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.Named("tracer")
	metrics := NewMetrics(opts.Registerer)

	scope := NewScopeFilter(opts.ExcludePrefixes, opts.ReceiverSuffix)
	meta := NewMetadataCache(h, scope, log, metrics)
	emitter := NewEmitter(h, opts.OutputFile, opts.Stdout, log, metrics)
	return &Agent{
		host:    h,
		meta:    meta,
		builder: NewSnapshotBuilder(h, meta, log, metrics),
		session: NewSession(h, meta, emitter, opts.DedupFields, opts.DedupDefault, log, metrics),
		log:     log,
		metrics: metrics,
		errs:    hostErrors{log: log, metrics: metrics},
	}
}

// Attach subscribes to method-entry events. Step events are only enabled
// while a session is active.
func (a *Agent) Attach() error {
	return a.host.SetEventMode(host.EventMethodEntry, true)
}

// Session returns the session controller.
func (a *Agent) Session() *Session {
	return a.session
}

// Metrics returns the engine counters.
func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

// OnMethodEntry reacts to start and end on the receiver type and ignores
// every other method.
func (a *Agent) OnMethodEntry(thread host.ThreadID, method host.MethodID) {
	md, err := a.meta.Method(method)
	if err != nil {
		a.errs.report(err)
		return
	}
	if !md.Receiver {
		return
	}
	switch md.Name {
	case "start":
		a.session.Start(thread, md.Class)
	case "end":
		a.session.End()
	default:
		a.log.Trace("receiver method ignored", zap.String("method", md.Name))
	}
}

// OnStep records a snapshot of the executing frame while a session is
// active.
func (a *Agent) OnStep(thread host.ThreadID, method host.MethodID, loc host.Location) {
	if a.session.State() != Active {
		return
	}
	snap, ok, err := a.builder.Build(thread, method, loc)
	if err != nil {
		a.errs.report(err)
		return
	}
	if !ok {
		a.metrics.StepsFiltered.Inc()
		return
	}
	switch a.session.Record(snap) {
	case Appended:
		a.metrics.StepsCaptured.Inc()
	case Repeated:
		a.metrics.StepsDeduplicated.Inc()
	case Closed:
		a.log.Debug("step dropped, session ended during capture",
			zap.String("method", snap.MethodName))
	}
}

// Shutdown flushes a session left active and syncs the logger.
func (a *Agent) Shutdown() {
	a.session.Shutdown()
	_ = a.log.Sync()
}
