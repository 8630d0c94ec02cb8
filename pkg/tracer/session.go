package tracer

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

// State is the session controller state.
type State int32

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// DefaultDedupFields are the receiver's static boolean fields consulted,
// in order, for the dedup option.
var DefaultDedupFields = []string{"filterSteps", "stateOnly"}

// Session is the Idle/Active controller owning the trace buffer.
//
// Start and End must not run concurrently; the host delivers them on the
// thread that calls the receiver. State and Record are safe from any
// thread.
type Session struct {
	host    host.Host
	meta    MetadataStore
	emitter *Emitter
	log     *logging.Logger
	metrics *Metrics
	errs    hostErrors

	dedupFields  []string
	dedupDefault bool

	state  atomic.Int32
	buffer Buffer

	id       string
	receiver *ReceiverHandle
}

// NewSession creates an idle session.
func NewSession(h host.Host, meta MetadataStore, emitter *Emitter, dedupFields []string, dedupDefault bool, log *logging.Logger, metrics *Metrics) *Session {
	return &Session{
		host:         h,
		meta:         meta,
		emitter:      emitter,
		log:          log,
		metrics:      metrics,
		errs:         hostErrors{log: log, metrics: metrics},
		dedupFields:  dedupFields,
		dedupDefault: dedupDefault,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Dedup reports whether the active session drops repeated snapshots.
func (s *Session) Dedup() bool {
	return s.buffer.Dedup()
}

// Len returns the number of snapshots recorded so far.
func (s *Session) Len() int {
	return s.buffer.Len()
}

// Start activates the session on entry into the receiver's start. class
// is the receiver type. Starting an active session does nothing.
func (s *Session) Start(thread host.ThreadID, class host.ClassID) {
	if s.State() == Active {
		s.log.Debug("start ignored, session already active", zap.String("session", s.id))
		return
	}

	s.receiver = s.resolveReceiver(thread, class)
	s.buffer.Open(s.readDedup(class))
	s.id = uuid.NewString()
	s.state.Store(int32(Active))
	s.metrics.Sessions.Inc()

	if err := s.host.SetEventMode(host.EventStep, true); err != nil {
		s.errs.report(err)
	}
	s.log.Info("trace session started",
		zap.String("session", s.id),
		zap.Bool("dedup", s.Dedup()),
		zap.Bool("receiver", s.receiver != nil))
}

func (s *Session) resolveReceiver(thread host.ThreadID, class host.ClassID) *ReceiverHandle {
	m, err := s.host.FindStaticMethod(class, "receive", ReceiveDescriptor)
	if errors.Is(err, host.ErrNotFound) {
		s.log.Debug("receiver has no receive callback")
		return nil
	}
	if err != nil {
		s.errs.report(err)
		return nil
	}
	return &ReceiverHandle{Thread: thread, Method: m}
}

// readDedup returns the first of the dedup fields the receiver declares
// as a static boolean, or the default when it declares none.
func (s *Session) readDedup(class host.ClassID) bool {
	cm, err := s.meta.Class(class)
	if err != nil {
		s.errs.report(err)
		return s.dedupDefault
	}
	for _, name := range s.dedupFields {
		for _, f := range cm.Fields {
			if f.Name != name || !f.Static || f.Signature != "Z" {
				continue
			}
			v, err := s.host.FieldInt(f.ID, host.NullObject)
			if err != nil {
				s.errs.report(err, zap.String("field", name))
				return s.dedupDefault
			}
			return v != 0
		}
	}
	return s.dedupDefault
}

// Record offers a snapshot to the session buffer. A snapshot that
// arrives after End took the buffer is Closed and dropped.
func (s *Session) Record(snap StepSnapshot) Outcome {
	return s.buffer.AppendUnlessRepeat(snap)
}

// End deactivates the session on entry into the receiver's end, then
// serializes and emits the recorded steps. Ending an idle session does
// nothing.
func (s *Session) End() {
	if s.State() == Idle {
		s.log.Debug("end ignored, no active session")
		return
	}
	if err := s.host.SetEventMode(host.EventStep, false); err != nil {
		s.errs.report(err)
	}
	steps := s.buffer.Take()
	s.state.Store(int32(Idle))

	doc := Serialize(steps)
	dest, err := s.emitter.Emit(doc, len(steps), s.receiver)
	if err != nil {
		s.log.Error("emitting trace failed", zap.String("session", s.id), zap.Error(err))
		return
	}
	s.log.Info("trace session ended",
		zap.String("session", s.id),
		zap.Int("steps", len(steps)),
		zap.String("destination", dest))
}

// Shutdown ends a session still active when the program exits.
func (s *Session) Shutdown() {
	if s.State() == Active {
		s.log.Info("flushing active session at exit", zap.String("session", s.id))
		s.End()
	}
}
