package modbustest

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/raohassandev/modbus-gateway/internal/modbusproto/mbap"
)

func dialServer(t *testing.T, s *Server) net.Conn {
	t.Helper()
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(s.Close)
	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, pdu []byte) []byte {
	t.Helper()
	h := mbap.Header{TransactionID: 1, ProtocolID: 0, UnitID: 1}
	if _, err := conn.Write(mbap.Encode(h, pdu)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	header := make([]byte, mbap.HeaderLength)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header error = %v", err)
	}
	respHeader, err := mbap.DecodeHeader(header)
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	body := make([]byte, int(respHeader.Length)-1)
	if _, err := readFull(conn, body); err != nil {
		t.Fatalf("read body error = %v", err)
	}
	return body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func TestReadHoldingRegistersReturnsSeededValue(t *testing.T) {
	s := NewServer()
	s.SetHoldingRegister(10, 0x1234)
	conn := dialServer(t, s)

	req := []byte{3, 0, 10, 0, 1}
	resp := roundTrip(t, conn, req)

	if resp[0] != 3 || resp[1] != 2 {
		t.Fatalf("unexpected response header: %v", resp)
	}
	got := binary.BigEndian.Uint16(resp[2:4])
	if got != 0x1234 {
		t.Fatalf("HoldingRegister = 0x%04x, want 0x1234", got)
	}
}

func TestWriteSingleRegisterUpdatesState(t *testing.T) {
	s := NewServer()
	conn := dialServer(t, s)

	req := make([]byte, 5)
	req[0] = 6
	binary.BigEndian.PutUint16(req[1:3], 5)
	binary.BigEndian.PutUint16(req[3:5], 0xBEEF)
	resp := roundTrip(t, conn, req)

	if len(resp) != 5 || resp[0] != 6 {
		t.Fatalf("unexpected echo response: %v", resp)
	}
	if got := s.HoldingRegister(5); got != 0xBEEF {
		t.Fatalf("HoldingRegister(5) = 0x%04x, want 0xBEEF", got)
	}
}

func TestWriteSingleCoilUpdatesState(t *testing.T) {
	s := NewServer()
	conn := dialServer(t, s)

	req := make([]byte, 5)
	req[0] = 5
	binary.BigEndian.PutUint16(req[1:3], 3)
	binary.BigEndian.PutUint16(req[3:5], 0xFF00)
	roundTrip(t, conn, req)

	if !s.Coil(3) {
		t.Fatal("expected coil 3 to be set")
	}
}

func TestWriteMultipleRegistersUpdatesState(t *testing.T) {
	s := NewServer()
	conn := dialServer(t, s)

	req := make([]byte, 6+4)
	req[0] = 16
	binary.BigEndian.PutUint16(req[1:3], 0)
	binary.BigEndian.PutUint16(req[3:5], 2)
	req[5] = 4
	binary.BigEndian.PutUint16(req[6:8], 0x0001)
	binary.BigEndian.PutUint16(req[8:10], 0x0002)
	resp := roundTrip(t, conn, req)

	if len(resp) != 5 || resp[0] != 16 {
		t.Fatalf("unexpected response: %v", resp)
	}
	if s.HoldingRegister(0) != 1 || s.HoldingRegister(1) != 2 {
		t.Fatalf("registers not written: %d, %d", s.HoldingRegister(0), s.HoldingRegister(1))
	}
}

func TestReadHoldingRegistersOutOfRangeReturnsException(t *testing.T) {
	s := NewServer()
	conn := dialServer(t, s)

	req := []byte{3, 0xFF, 0xFF, 0, 10}
	resp := roundTrip(t, conn, req)

	if resp[0] != 3|0x80 {
		t.Fatalf("expected exception response, got function byte 0x%02x", resp[0])
	}
}

func TestUnsupportedFunctionCodeReturnsIllegalFunction(t *testing.T) {
	s := NewServer()
	conn := dialServer(t, s)

	resp := roundTrip(t, conn, []byte{99, 0, 0})

	if resp[0] != 99|0x80 || resp[1] != 1 {
		t.Fatalf("unexpected response: %v", resp)
	}
}
