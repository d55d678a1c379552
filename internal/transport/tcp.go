package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/mbap"
)

// TCPConfig configures a TCPTransport.
type TCPConfig struct {
	Host                 string
	Port                 int
	ConnectTimeout       time.Duration
	AutoReconnect        bool
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int // 0 means unlimited
}

type pendingRequest struct {
	replyCh chan tcpReply
}

type tcpReply struct {
	pduBytes []byte
	err      error
}

// TCPTransport multiplexes requests over one TCP socket by MBAP transaction
// id (§4.2). One socket serves every unit id behind the same gateway
// connection, since MBAP carries the unit id per frame.
type TCPTransport struct {
	cfg    TCPConfig
	logger *zap.Logger

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	pending map[uint16]*pendingRequest
	txGen   mbap.TransactionIDGenerator
	events  chan Event
	closed  chan struct{}

	reconnectAttempts int
}

// NewTCPTransport builds a TCPTransport. logger must not be nil.
func NewTCPTransport(cfg TCPConfig, logger *zap.Logger) *TCPTransport {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &TCPTransport{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[uint16]*pendingRequest),
		events:  make(chan Event, 16),
	}
}

func (t *TCPTransport) Events() <-chan Event { return t.events }

func (t *TCPTransport) emit(e Event) {
	select {
	case t.events <- e:
	default:
		t.logger.Warn("transport event dropped, channel full", zap.String("kind", e.Kind.String()))
	}
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.emit(Event{Kind: Connecting})
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.emit(Event{Kind: ErrorEvent, Err: err})
		return &gwerrors.TransportError{Op: "connect", Cause: err, Device: addr}
	}

	t.mu.Lock()
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.closed = make(chan struct{})
	t.reconnectAttempts = 0
	t.mu.Unlock()

	go t.readLoop(t.closed)
	t.emit(Event{Kind: Connected})
	t.logger.Info("tcp transport connected", zap.String("addr", addr))
	return nil
}

func (t *TCPTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	if closed != nil {
		<-closed
	}
	t.failAllPending(fmt.Errorf("transport disconnected"))
	t.emit(Event{Kind: Disconnected, HadErr: err != nil})
	return err
}

func (t *TCPTransport) Send(ctx context.Context, unitID byte, requestPDU []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, &gwerrors.TransportError{Op: "send", Cause: fmt.Errorf("not connected")}
	}
	txID := t.txGen.Next()
	pending := &pendingRequest{replyCh: make(chan tcpReply, 1)}
	t.pending[txID] = pending
	t.mu.Unlock()

	adu := mbap.Encode(mbap.Header{TransactionID: txID, UnitID: unitID}, requestPDU)
	if _, err := conn.Write(adu); err != nil {
		t.mu.Lock()
		delete(t.pending, txID)
		t.mu.Unlock()
		return nil, &gwerrors.TransportError{Op: "write", Cause: err}
	}

	select {
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, txID)
		t.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(timeout):
		t.mu.Lock()
		delete(t.pending, txID)
		t.mu.Unlock()
		return nil, &gwerrors.Timeout{Op: "send"}
	case reply := <-pending.replyCh:
		return reply.pduBytes, reply.err
	}
}

// readLoop incrementally reassembles MBAP ADUs off the socket and dispatches
// each to the pending request whose transaction id matches. Mismatched or
// unexpected transaction ids are logged and discarded, per §4.2.
func (t *TCPTransport) readLoop(closed chan struct{}) {
	defer close(closed)
	header := make([]byte, mbap.HeaderLength)
	for {
		if _, err := readFull(t.reader, header); err != nil {
			t.handleReadError(err)
			return
		}
		h, err := mbap.DecodeHeader(header)
		if err != nil {
			t.logger.Warn("dropping malformed mbap header", zap.Error(err))
			continue
		}
		pduLen := int(h.Length) - 1
		if pduLen < 0 {
			t.logger.Warn("dropping mbap header with invalid length", zap.Uint16("length", h.Length))
			continue
		}
		pduBytes := make([]byte, pduLen)
		if _, err := readFull(t.reader, pduBytes); err != nil {
			t.handleReadError(err)
			return
		}

		t.mu.Lock()
		pending, ok := t.pending[h.TransactionID]
		if ok {
			delete(t.pending, h.TransactionID)
		}
		t.mu.Unlock()

		if !ok {
			t.logger.Warn("discarding response with unmatched transaction id", zap.Uint16("tx_id", h.TransactionID))
			continue
		}
		pending.replyCh <- tcpReply{pduBytes: pduBytes}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *TCPTransport) handleReadError(err error) {
	t.failAllPending(err)
	t.emit(Event{Kind: Disconnected, HadErr: true, Err: err})
	t.logger.Warn("tcp transport read loop ended", zap.Error(err))
	if t.cfg.AutoReconnect {
		t.scheduleReconnect()
	}
}

func (t *TCPTransport) failAllPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint16]*pendingRequest)
	t.mu.Unlock()
	for _, p := range pending {
		p.replyCh <- tcpReply{err: &gwerrors.TransportError{Op: "connection closed", Cause: err}}
	}
}

func (t *TCPTransport) scheduleReconnect() {
	t.mu.Lock()
	t.reconnectAttempts++
	attempts := t.reconnectAttempts
	t.mu.Unlock()
	if t.cfg.MaxReconnectAttempts > 0 && attempts > t.cfg.MaxReconnectAttempts {
		t.logger.Error("tcp transport exhausted reconnect attempts", zap.Int("attempts", attempts))
		return
	}
	time.AfterFunc(t.cfg.ReconnectInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
		defer cancel()
		if err := t.Connect(ctx); err != nil {
			t.logger.Warn("tcp transport reconnect failed", zap.Error(err))
			if t.cfg.AutoReconnect {
				t.scheduleReconnect()
			}
		}
	})
}
