package tracer

import (
	"fmt"
	"io"
	"os"
	"sync"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

// ReceiveDescriptor is the signature of the receiver's receive callback:
// the document and its step count.
const ReceiveDescriptor = "(Ljava/lang/String;I)V"

// ReceiverHandle is a resolved receive callback.
type ReceiverHandle struct {
	Thread host.ThreadID
	Method host.MethodID
}

// Emitter delivers documents to the receiver callback when there is one,
// else to the configured file, else to the default writer.
type Emitter struct {
	host    host.Host
	file    string
	stdout  io.Writer
	log     *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	flushed bool // a file flush happened; later flushes append
}

// NewEmitter creates an emitter. An empty file selects stdout.
func NewEmitter(h host.Host, file string, stdout io.Writer, log *logging.Logger, metrics *Metrics) *Emitter {
	return &Emitter{host: h, file: file, stdout: stdout, log: log, metrics: metrics}
}

// Emit delivers doc, which holds steps snapshots, and returns the
// destination used. recv may be nil.
func (e *Emitter) Emit(doc string, steps int, recv *ReceiverHandle) (string, error) {
	dest, err := e.emit(doc, steps, recv)
	if err != nil {
		return dest, err
	}
	e.metrics.Flushes.WithLabelValues(dest).Inc()
	e.metrics.FlushSteps.Observe(float64(steps))
	return dest, nil
}

func (e *Emitter) emit(doc string, steps int, recv *ReceiverHandle) (string, error) {
	if recv != nil {
		err := e.toReceiver(doc, steps, recv)
		if err == nil {
			return DestinationReceiver, nil
		}
		e.log.Warn("receiver callback failed, falling back", zap.Error(err),
			zap.Stringer("code", host.CodeOf(err)))
	}
	if e.file != "" {
		if err := e.toFile(doc); err != nil {
			return DestinationFile, fmt.Errorf("writing trace to %s: %w", e.file, err)
		}
		return DestinationFile, nil
	}
	if _, err := io.WriteString(e.stdout, doc); err != nil {
		return DestinationDefault, fmt.Errorf("writing trace: %w", err)
	}
	return DestinationDefault, nil
}

func (e *Emitter) toReceiver(doc string, steps int, recv *ReceiverHandle) error {
	count, err := safecast.Conv[int32](steps)
	if err != nil {
		return fmt.Errorf("step count: %w", err)
	}
	return e.host.InvokeStatic(recv.Thread, recv.Method, doc, count)
}

// toFile truncates on the first flush of the process and appends after.
func (e *Emitter) toFile(doc string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !e.flushed {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(e.file, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(doc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	e.flushed = true
	return nil
}
