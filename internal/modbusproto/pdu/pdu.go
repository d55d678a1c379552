// Package pdu builds and parses Modbus Protocol Data Units, independent of
// whether they travel inside a TCP MBAP frame or an RTU frame.
package pdu

import (
	"encoding/binary"
	"fmt"
)

// FunctionCode identifies the Modbus operation carried by a PDU.
type FunctionCode byte

const (
	ReadCoils              FunctionCode = 1
	ReadDiscreteInputs     FunctionCode = 2
	ReadHoldingRegisters   FunctionCode = 3
	ReadInputRegisters     FunctionCode = 4
	WriteSingleCoil        FunctionCode = 5
	WriteSingleRegister    FunctionCode = 6
	WriteMultipleCoils     FunctionCode = 15
	WriteMultipleRegisters FunctionCode = 16
)

const exceptionBit = 0x80

// ExceptionCode is the second byte of an exception response.
type ExceptionCode byte

const (
	IllegalFunction                    ExceptionCode = 0x01
	IllegalDataAddress                 ExceptionCode = 0x02
	IllegalDataValue                   ExceptionCode = 0x03
	ServerDeviceFailure                ExceptionCode = 0x04
	Acknowledge                        ExceptionCode = 0x05
	ServerDeviceBusy                   ExceptionCode = 0x06
	NegativeAcknowledge                ExceptionCode = 0x07
	MemoryParityError                  ExceptionCode = 0x08
	GatewayPathUnavailable             ExceptionCode = 0x0A
	GatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

var exceptionNames = map[ExceptionCode]string{
	IllegalFunction:                    "illegal function",
	IllegalDataAddress:                 "illegal data address",
	IllegalDataValue:                   "illegal data value",
	ServerDeviceFailure:                "server device failure",
	Acknowledge:                        "acknowledge",
	ServerDeviceBusy:                   "server device busy",
	NegativeAcknowledge:                "negative acknowledge",
	MemoryParityError:                  "memory parity error",
	GatewayPathUnavailable:             "gateway path unavailable",
	GatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

func (c ExceptionCode) String() string {
	if name, ok := exceptionNames[c]; ok {
		return name
	}
	return "unknown exception"
}

// ModbusException is raised when a device answers a request with its
// exception bit set. It is never retried by the session layer (§4.9).
type ModbusException struct {
	Code ExceptionCode
	FC   FunctionCode
}

func (e *ModbusException) Error() string {
	return fmt.Sprintf("modbus: exception %s (0x%02X) on function %d", e.Code, byte(e.Code), e.FC)
}

// FrameError reports a response PDU that does not fit its request: a short
// payload, a byte count the payload does not carry, or a function-code
// mismatch. The Parse functions return it to their caller, and the session
// passes it on unchanged. Frames with a bad CRC or wrong unit id never get
// this far: the RTU transport drops them and the request times out.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string { return "modbus: frame error: " + e.Reason }

// quantityLimits enumerates the valid [min,max] quantity per read/write
// function code (§4.1).
var quantityLimits = map[FunctionCode][2]int{
	ReadCoils:              {1, 2000},
	ReadDiscreteInputs:     {1, 2000},
	ReadHoldingRegisters:   {1, 125},
	ReadInputRegisters:     {1, 125},
	WriteMultipleCoils:     {1, 1968},
	WriteMultipleRegisters: {1, 123},
}

// ValidateQuantity reports whether count is within the legal range for fc.
func ValidateQuantity(fc FunctionCode, count int) error {
	limits, ok := quantityLimits[fc]
	if !ok {
		return nil
	}
	if count < limits[0] || count > limits[1] {
		return fmt.Errorf("modbus: function %d quantity %d out of range [%d,%d]", fc, count, limits[0], limits[1])
	}
	return nil
}

// BuildReadRequest builds the PDU for FC 1-4.
func BuildReadRequest(fc FunctionCode, address uint16, count int) ([]byte, error) {
	if err := ValidateQuantity(fc, count); err != nil {
		return nil, err
	}
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(count))
	return pdu, nil
}

// BuildWriteSingleCoil builds the PDU for FC 5. value must be 0x0000 or 0xFF00.
func BuildWriteSingleCoil(address uint16, value uint16) ([]byte, error) {
	if value != 0x0000 && value != 0xFF00 {
		return nil, fmt.Errorf("modbus: write single coil value 0x%04X must be 0x0000 or 0xFF00", value)
	}
	pdu := make([]byte, 5)
	pdu[0] = byte(WriteSingleCoil)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu, nil
}

// BuildWriteSingleRegister builds the PDU for FC 6.
func BuildWriteSingleRegister(address uint16, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(WriteSingleRegister)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// BuildWriteMultipleCoils builds the PDU for FC 15.
func BuildWriteMultipleCoils(address uint16, values []bool) ([]byte, error) {
	if err := ValidateQuantity(WriteMultipleCoils, len(values)); err != nil {
		return nil, err
	}
	byteCount := (len(values) + 7) / 8
	pdu := make([]byte, 6+byteCount)
	pdu[0] = byte(WriteMultipleCoils)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(byteCount)
	for i, v := range values {
		if v {
			pdu[6+i/8] |= 1 << uint(i%8)
		}
	}
	return pdu, nil
}

// BuildWriteMultipleRegisters builds the PDU for FC 16.
func BuildWriteMultipleRegisters(address uint16, values []uint16) ([]byte, error) {
	if err := ValidateQuantity(WriteMultipleRegisters, len(values)); err != nil {
		return nil, err
	}
	pdu := make([]byte, 6+len(values)*2)
	pdu[0] = byte(WriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+i*2:8+i*2], v)
	}
	return pdu, nil
}

// IsException reports whether pdu's function-code byte has the exception bit
// set.
func IsException(pduBytes []byte) bool {
	return len(pduBytes) > 0 && pduBytes[0]&exceptionBit != 0
}

// ParseException extracts the exception from a response PDU whose
// function-code byte has the high bit set. requestFC is the function code of
// the original request (the response's own FC byte carries the bit set, so
// the caller's requestFC is reported in the resulting error for clarity).
func ParseException(pduBytes []byte, requestFC FunctionCode) (*ModbusException, error) {
	if len(pduBytes) < 2 {
		return nil, &FrameError{Reason: "exception response shorter than 2 bytes"}
	}
	return &ModbusException{Code: ExceptionCode(pduBytes[1]), FC: requestFC}, nil
}

// ParseReadResponse extracts the raw byte payload from a FC 1-4 response PDU.
func ParseReadResponse(pduBytes []byte, fc FunctionCode) ([]byte, error) {
	if IsException(pduBytes) {
		exc, err := ParseException(pduBytes, fc)
		if err != nil {
			return nil, err
		}
		return nil, exc
	}
	if len(pduBytes) < 2 {
		return nil, &FrameError{Reason: "read response shorter than 2 bytes"}
	}
	if FunctionCode(pduBytes[0]) != fc {
		return nil, &FrameError{Reason: fmt.Sprintf("response function %d does not match request %d", pduBytes[0], fc)}
	}
	byteCount := int(pduBytes[1])
	if len(pduBytes) < 2+byteCount {
		return nil, &FrameError{Reason: "read response shorter than declared byte count"}
	}
	return pduBytes[2 : 2+byteCount], nil
}

// ParseWriteResponse validates an echo-style response (FC 5, 6, 15, 16): the
// device is expected to echo function code, address and (for 5/6) value.
func ParseWriteResponse(pduBytes []byte, fc FunctionCode) error {
	if IsException(pduBytes) {
		exc, err := ParseException(pduBytes, fc)
		if err != nil {
			return err
		}
		return exc
	}
	if len(pduBytes) < 1 || FunctionCode(pduBytes[0]) != fc {
		return &FrameError{Reason: "write response function code mismatch"}
	}
	return nil
}

// RTUFrameLength predicts the total RTU frame length (unit id + PDU + CRC) of
// a response, given the function code and — for read responses — the
// already-received byte-count field (third byte of the frame). header must
// contain at least the bytes received so far starting at the unit id.
//
// Returns (length, true) once it can be determined, or (0, false) if more
// bytes are needed before the length is knowable.
func RTUFrameLength(header []byte) (int, bool) {
	if len(header) < 2 {
		return 0, false
	}
	fc := header[1]
	if fc&exceptionBit != 0 {
		return 5, true
	}
	switch FunctionCode(fc) {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		if len(header) < 3 {
			return 0, false
		}
		byteCount := int(header[2])
		return 5 + byteCount, true
	case WriteSingleCoil, WriteSingleRegister, WriteMultipleCoils, WriteMultipleRegisters:
		return 8, true
	default:
		return 5, true
	}
}
