// Package modbustest is a test-only in-process Modbus TCP server: enough of
// the wire protocol to exercise internal/transport, internal/session and
// internal/poller against something that isn't a mock at the Go interface
// level. It is grounded directly on the teacher's internal/modbus.Server
// (accept loop, per-connection MBAP framing, register arrays), generalized
// from read-only (FC 1-4) to also answer the write function codes (FC 5, 6,
// 15, 16) the setpoint manager (C10) needs to exercise end to end.
package modbustest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/raohassandev/modbus-gateway/internal/modbusproto/mbap"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
)

// Server is a minimal Modbus TCP server backed by four register arrays,
// for integration tests that want a real socket round trip.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu               sync.RWMutex
	HoldingRegisters []uint16
	InputRegisters   []uint16
	Coils            []bool
	DiscreteInputs   []bool
}

// NewServer builds a Server with 65536-entry register arrays, all zeroed.
func NewServer() *Server {
	return &Server{
		HoldingRegisters: make([]uint16, 65536),
		InputRegisters:   make([]uint16, 65536),
		Coils:            make([]bool, 65536),
		DiscreteInputs:   make([]bool, 65536),
		quit:             make(chan struct{}),
	}
}

// Listen starts accepting connections on address ("127.0.0.1:0" for an
// OS-assigned port; read Addr() afterward).
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener's bound address, for dialing back into a
// Listen("127.0.0.1:0") server.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	header := make([]byte, mbap.HeaderLength)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		h, err := mbap.DecodeHeader(header)
		if err != nil {
			return
		}
		pduLen := int(h.Length) - 1
		if pduLen <= 0 {
			continue
		}
		reqPDU := make([]byte, pduLen)
		if _, err := io.ReadFull(conn, reqPDU); err != nil {
			return
		}

		respPDU := s.handlePDU(reqPDU)
		adu := mbap.Encode(h, respPDU)
		if _, err := conn.Write(adu); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(reqPDU []byte) []byte {
	if len(reqPDU) == 0 {
		return exceptionResponse(0, pdu.IllegalFunction)
	}

	fc := pdu.FunctionCode(reqPDU[0])
	switch fc {
	case pdu.ReadCoils:
		return s.handleReadBits(fc, s.Coils, reqPDU)
	case pdu.ReadDiscreteInputs:
		return s.handleReadBits(fc, s.DiscreteInputs, reqPDU)
	case pdu.ReadHoldingRegisters:
		return s.handleReadRegisters(fc, s.HoldingRegisters, reqPDU)
	case pdu.ReadInputRegisters:
		return s.handleReadRegisters(fc, s.InputRegisters, reqPDU)
	case pdu.WriteSingleCoil:
		return s.handleWriteSingleCoil(reqPDU)
	case pdu.WriteSingleRegister:
		return s.handleWriteSingleRegister(reqPDU)
	case pdu.WriteMultipleCoils:
		return s.handleWriteMultipleCoils(reqPDU)
	case pdu.WriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(reqPDU)
	default:
		return exceptionResponse(byte(fc), pdu.IllegalFunction)
	}
}

func (s *Server) handleReadBits(fc pdu.FunctionCode, source []bool, reqPDU []byte) []byte {
	if len(reqPDU) < 5 {
		return exceptionResponse(byte(fc), pdu.IllegalDataValue)
	}
	start := binary.BigEndian.Uint16(reqPDU[1:3])
	quantity := binary.BigEndian.Uint16(reqPDU[3:5])
	if quantity == 0 || int(start)+int(quantity) > len(source) {
		return exceptionResponse(byte(fc), pdu.IllegalDataAddress)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	byteCount := (int(quantity) + 7) / 8
	data := make([]byte, byteCount)
	for i := 0; i < int(quantity); i++ {
		if source[int(start)+i] {
			data[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return append([]byte{byte(fc), byte(len(data))}, data...)
}

func (s *Server) handleReadRegisters(fc pdu.FunctionCode, source []uint16, reqPDU []byte) []byte {
	if len(reqPDU) < 5 {
		return exceptionResponse(byte(fc), pdu.IllegalDataValue)
	}
	start := binary.BigEndian.Uint16(reqPDU[1:3])
	quantity := binary.BigEndian.Uint16(reqPDU[3:5])
	if quantity == 0 || int(start)+int(quantity) > len(source) {
		return exceptionResponse(byte(fc), pdu.IllegalDataAddress)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(data[i*2:i*2+2], source[int(start)+i])
	}
	return append([]byte{byte(fc), byte(len(data))}, data...)
}

func (s *Server) handleWriteSingleCoil(reqPDU []byte) []byte {
	if len(reqPDU) < 5 {
		return exceptionResponse(byte(pdu.WriteSingleCoil), pdu.IllegalDataValue)
	}
	address := binary.BigEndian.Uint16(reqPDU[1:3])
	value := binary.BigEndian.Uint16(reqPDU[3:5])
	if value != 0x0000 && value != 0xFF00 {
		return exceptionResponse(byte(pdu.WriteSingleCoil), pdu.IllegalDataValue)
	}
	if int(address) >= len(s.Coils) {
		return exceptionResponse(byte(pdu.WriteSingleCoil), pdu.IllegalDataAddress)
	}
	s.mu.Lock()
	s.Coils[address] = value == 0xFF00
	s.mu.Unlock()
	return append([]byte{}, reqPDU...)
}

func (s *Server) handleWriteSingleRegister(reqPDU []byte) []byte {
	if len(reqPDU) < 5 {
		return exceptionResponse(byte(pdu.WriteSingleRegister), pdu.IllegalDataValue)
	}
	address := binary.BigEndian.Uint16(reqPDU[1:3])
	value := binary.BigEndian.Uint16(reqPDU[3:5])
	if int(address) >= len(s.HoldingRegisters) {
		return exceptionResponse(byte(pdu.WriteSingleRegister), pdu.IllegalDataAddress)
	}
	s.mu.Lock()
	s.HoldingRegisters[address] = value
	s.mu.Unlock()
	return append([]byte{}, reqPDU...)
}

func (s *Server) handleWriteMultipleCoils(reqPDU []byte) []byte {
	if len(reqPDU) < 6 {
		return exceptionResponse(byte(pdu.WriteMultipleCoils), pdu.IllegalDataValue)
	}
	address := binary.BigEndian.Uint16(reqPDU[1:3])
	quantity := binary.BigEndian.Uint16(reqPDU[3:5])
	byteCount := int(reqPDU[5])
	if len(reqPDU) < 6+byteCount || int(address)+int(quantity) > len(s.Coils) {
		return exceptionResponse(byte(pdu.WriteMultipleCoils), pdu.IllegalDataAddress)
	}
	data := reqPDU[6 : 6+byteCount]

	s.mu.Lock()
	for i := 0; i < int(quantity); i++ {
		s.Coils[int(address)+i] = data[i/8]&(1<<(uint(i)%8)) != 0
	}
	s.mu.Unlock()
	return reqPDU[:5]
}

func (s *Server) handleWriteMultipleRegisters(reqPDU []byte) []byte {
	if len(reqPDU) < 6 {
		return exceptionResponse(byte(pdu.WriteMultipleRegisters), pdu.IllegalDataValue)
	}
	address := binary.BigEndian.Uint16(reqPDU[1:3])
	quantity := binary.BigEndian.Uint16(reqPDU[3:5])
	byteCount := int(reqPDU[5])
	if len(reqPDU) < 6+byteCount || int(address)+int(quantity) > len(s.HoldingRegisters) {
		return exceptionResponse(byte(pdu.WriteMultipleRegisters), pdu.IllegalDataAddress)
	}
	data := reqPDU[6 : 6+byteCount]

	s.mu.Lock()
	for i := 0; i < int(quantity); i++ {
		s.HoldingRegisters[int(address)+i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	s.mu.Unlock()
	return reqPDU[:5]
}

func exceptionResponse(function byte, code pdu.ExceptionCode) []byte {
	return []byte{function | 0x80, byte(code)}
}

// Close stops the server and waits for every connection goroutine to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// SetHoldingRegister seeds a holding register value before a test connects.
func (s *Server) SetHoldingRegister(address uint16, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HoldingRegisters[address] = value
}

// SetCoil seeds a coil value before a test connects.
func (s *Server) SetCoil(address uint16, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Coils[address] = value
}

// HoldingRegister reads back a holding register, for asserting a write
// round-tripped into the server's state.
func (s *Server) HoldingRegister(address uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.HoldingRegisters[address]
}

// Coil reads back a coil value.
func (s *Server) Coil(address uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Coils[address]
}

// SetInputRegister seeds an input register value before a test connects.
func (s *Server) SetInputRegister(address uint16, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InputRegisters[address] = value
}

// InputRegister reads back an input register value.
func (s *Server) InputRegister(address uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.InputRegisters[address]
}
