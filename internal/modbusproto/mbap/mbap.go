// Package mbap encodes and decodes the MBAP header that wraps a PDU for
// Modbus TCP.
package mbap

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// HeaderLength is the fixed size of an MBAP header in bytes.
const HeaderLength = 7

// Header is the 7-byte envelope Modbus TCP prepends to every PDU.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // unit id byte + PDU length
	UnitID        byte
}

// Encode writes header followed by pdu into a single ADU.
func Encode(h Header, pduBytes []byte) []byte {
	adu := make([]byte, HeaderLength+len(pduBytes))
	binary.BigEndian.PutUint16(adu[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(adu[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(adu[4:6], uint16(len(pduBytes)+1))
	adu[6] = h.UnitID
	copy(adu[7:], pduBytes)
	return adu
}

// DecodeHeader parses the first HeaderLength bytes of an ADU.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLength {
		return Header{}, fmt.Errorf("mbap: header needs %d bytes, got %d", HeaderLength, len(buf))
	}
	h := Header{
		TransactionID: binary.BigEndian.Uint16(buf[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(buf[2:4]),
		Length:        binary.BigEndian.Uint16(buf[4:6]),
		UnitID:        buf[6],
	}
	if h.ProtocolID != 0 {
		return Header{}, fmt.Errorf("mbap: unexpected protocol id %d, want 0", h.ProtocolID)
	}
	return h, nil
}

// Decode parses a complete ADU into its header and PDU payload. adu must
// contain exactly HeaderLength + (header.Length - 1) bytes.
func Decode(adu []byte) (Header, []byte, error) {
	h, err := DecodeHeader(adu)
	if err != nil {
		return Header{}, nil, err
	}
	want := HeaderLength + int(h.Length) - 1
	if len(adu) != want {
		return Header{}, nil, fmt.Errorf("mbap: adu length %d does not match header length field (want %d)", len(adu), want)
	}
	return h, adu[HeaderLength:], nil
}

// TransactionIDGenerator produces the monotonically increasing 16-bit
// transaction ids a TCP transport stamps on outgoing requests, wrapping from
// 0xFFFF back to 0 (§4.2).
type TransactionIDGenerator struct {
	next uint32
}

// Next returns the next transaction id.
func (g *TransactionIDGenerator) Next() uint16 {
	v := atomic.AddUint32(&g.next, 1)
	return uint16(v - 1)
}
