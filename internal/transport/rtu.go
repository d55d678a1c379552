package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/crc"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
)

// RTUConfig configures an RTUTransport.
type RTUConfig struct {
	Path     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E", "O"
}

// RTUTransport speaks Modbus RTU over a single serial port, enforcing the
// process-wide port-exclusivity and single-in-flight rules of §5.
type RTUTransport struct {
	cfg    RTUConfig
	logger *zap.Logger

	mu         sync.Mutex
	inFlight   bool
	port       io.ReadWriteCloser
	reader     *bufio.Reader
	registry   *portRegistry
	events     chan Event
}

// NewRTUTransport builds an RTUTransport. logger must not be nil.
func NewRTUTransport(cfg RTUConfig, logger *zap.Logger) *RTUTransport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	return &RTUTransport{
		cfg:      cfg,
		logger:   logger,
		registry: globalPortRegistry,
		events:   make(chan Event, 16),
	}
}

func (t *RTUTransport) Events() <-chan Event { return t.events }

func (t *RTUTransport) emit(e Event) {
	select {
	case t.events <- e:
	default:
		t.logger.Warn("transport event dropped, channel full", zap.String("kind", e.Kind.String()))
	}
}

func (t *RTUTransport) Connect(ctx context.Context) error {
	t.emit(Event{Kind: Connecting})
	if err := t.registry.Acquire(t.cfg.Path); err != nil {
		t.emit(Event{Kind: ErrorEvent, Err: err})
		return err
	}

	port, err := serial.Open(&serial.Config{
		Address:  t.cfg.Path,
		BaudRate: t.cfg.BaudRate,
		DataBits: t.cfg.DataBits,
		StopBits: t.cfg.StopBits,
		Parity:   t.cfg.Parity,
		Timeout:  1000 * time.Millisecond,
	})
	if err != nil {
		t.registry.Release(t.cfg.Path)
		t.emit(Event{Kind: ErrorEvent, Err: err})
		return &gwerrors.TransportError{Op: "connect", Cause: err, Device: t.cfg.Path}
	}

	t.mu.Lock()
	t.port = port
	t.reader = bufio.NewReader(port)
	t.mu.Unlock()

	t.emit(Event{Kind: Connected})
	t.logger.Info("rtu transport connected", zap.String("path", t.cfg.Path))
	return nil
}

func (t *RTUTransport) Disconnect() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	t.registry.Release(t.cfg.Path)
	if port == nil {
		return nil
	}
	err := port.Close()
	t.emit(Event{Kind: Disconnected, HadErr: err != nil})
	return err
}

// Send implements the per-send protocol of §4.2: flush the receive buffer,
// write the framed request, await the response. The write is not followed by
// an explicit drain of the OS transmit buffer. Only
// one Send may be in flight at a time (invariant I-3); a concurrent caller
// gets gwerrors.BusyInProgress immediately.
func (t *RTUTransport) Send(ctx context.Context, unitID byte, requestPDU []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return nil, &gwerrors.BusyInProgress{Device: t.cfg.Path}
	}
	t.inFlight = true
	port := t.port
	reader := t.reader
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()

	if port == nil {
		return nil, &gwerrors.TransportError{Op: "send", Cause: fmt.Errorf("not connected")}
	}

	drainReceiveBuffer(reader)

	frame := crc.Append(append([]byte{unitID}, requestPDU...))
	if _, err := port.Write(frame); err != nil {
		return nil, &gwerrors.TransportError{Op: "write", Cause: err}
	}

	resultCh := make(chan rtuReadResult, 1)
	go func() { resultCh <- readRTUResponse(reader) }()

	deadline := time.After(timeout)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		return nil, &gwerrors.Timeout{Op: "send"}
	case result := <-resultCh:
		if result.err != nil || !crc.Valid(result.frame) || result.frame[0] != unitID {
			// A truncated frame, bad CRC or wrong unit id is dropped; the
			// request then runs out its timeout.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-deadline:
				return nil, &gwerrors.Timeout{Op: "send"}
			}
		}
		return result.frame[1 : len(result.frame)-2], nil
	}
}

type rtuReadResult struct {
	frame []byte
	err   error
}

// readRTUResponse reads a complete RTU frame, predicting total length from
// the function code as soon as it is known (§4.1).
func readRTUResponse(reader *bufio.Reader) rtuReadResult {
	header := make([]byte, 0, 3)
	for len(header) < 2 {
		b, err := reader.ReadByte()
		if err != nil {
			return rtuReadResult{err: err}
		}
		header = append(header, b)
	}
	for {
		length, ok := pdu.RTUFrameLength(header)
		if ok {
			frame := make([]byte, length)
			copy(frame, header)
			if _, err := readFull(reader, frame[len(header):]); err != nil {
				return rtuReadResult{err: err}
			}
			return rtuReadResult{frame: frame}
		}
		b, err := reader.ReadByte()
		if err != nil {
			return rtuReadResult{err: err}
		}
		header = append(header, b)
	}
}

// drainReceiveBuffer discards any bytes left over from a prior aborted
// exchange, per §4.2's "flush the receive buffer" step.
func drainReceiveBuffer(reader *bufio.Reader) {
	for reader.Buffered() > 0 {
		if _, err := reader.Discard(reader.Buffered()); err != nil {
			return
		}
	}
}
