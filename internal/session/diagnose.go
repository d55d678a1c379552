package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/raohassandev/modbus-gateway/internal/gwerrors"
	"github.com/raohassandev/modbus-gateway/internal/modbusproto/pdu"
)

// ErrorType is one of the eleven closed diagnostic categories test_connection
// reports (§7).
type ErrorType string

const (
	ConnectionRefused  ErrorType = "CONNECTION_REFUSED"
	ConnectionTimeout  ErrorType = "CONNECTION_TIMEOUT"
	PortBusy           ErrorType = "PORT_BUSY"
	PortNotFound       ErrorType = "PORT_NOT_FOUND"
	DeviceNoResponse   ErrorType = "DEVICE_NO_RESPONSE"
	IllegalFunction    ErrorType = "ILLEGAL_FUNCTION"
	IllegalAddress     ErrorType = "ILLEGAL_ADDRESS"
	PortNotOpen        ErrorType = "PORT_NOT_OPEN"
	ConnectionError    ErrorType = "CONNECTION_ERROR"
	NotFound           ErrorType = "NOT_FOUND"
	DeviceDisabled     ErrorType = "DEVICE_DISABLED"
)

// TestConnectionResult is the structured diagnostic returned by
// test_connection (§7).
type TestConnectionResult struct {
	Status          string
	ErrorType       ErrorType
	Message         string
	Troubleshooting string
	DeviceInfo      string
	Timestamp       time.Time
}

var troubleshootingHints = map[ErrorType]string{
	ConnectionRefused: "verify the device is powered on and the host/port are correct",
	ConnectionTimeout: "check network routing and firewall rules between the gateway and the device",
	PortBusy:          "another session already holds this serial port; stop it before retrying",
	PortNotFound:      "verify the serial device path exists on this host",
	DeviceNoResponse:  "device accepted the connection but did not answer a read in time; check unit id and wiring",
	IllegalFunction:   "the device does not support the function code used for the test read",
	IllegalAddress:    "the test read address is outside the device's supported register range",
	PortNotOpen:       "the serial port could not be opened; check permissions and that it isn't held by another process",
	ConnectionError:   "an unexpected transport error occurred",
	NotFound:          "no device definition exists with this id",
	DeviceDisabled:    "the device is disabled and was not contacted",
}

// Diagnose attempts a connect + minimal read against tr and classifies the
// outcome into one of §7's error_type values. Diagnose never reports
// NotFound or DeviceDisabled itself: it does no device lookup and does not
// read the Enabled flag.
func (s *Session) Diagnose(ctx context.Context, probeFC pdu.FunctionCode, probeAddress uint16, deviceInfo string) TestConnectionResult {
	now := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.Connect(connectCtx); err != nil {
		et, msg := classifyConnectError(err)
		return TestConnectionResult{
			Status:          "error",
			ErrorType:       et,
			Message:         msg,
			Troubleshooting: troubleshootingHints[et],
			DeviceInfo:      deviceInfo,
			Timestamp:       now,
		}
	}
	defer s.Disconnect()

	_, err := s.ReadRegisters(ctx, probeFC, probeAddress, 1)
	if err != nil {
		et, msg := classifyReadError(err)
		return TestConnectionResult{
			Status:          "error",
			ErrorType:       et,
			Message:         msg,
			Troubleshooting: troubleshootingHints[et],
			DeviceInfo:      deviceInfo,
			Timestamp:       now,
		}
	}

	return TestConnectionResult{
		Status:     "ok",
		Message:    "connection succeeded and a test read responded",
		DeviceInfo: deviceInfo,
		Timestamp:  now,
	}
}

// classifyConnectError maps a Connect failure to one of §7's error_type
// values. This is the external boundary §9 explicitly allows to classify by
// error message text, since the underlying causes span net.OpError (TCP),
// os.PathError (RTU device node) and goburrow/serial's own string errors.
func classifyConnectError(err error) (ErrorType, string) {
	var portBusy *gwerrors.PortBusy
	if errors.As(err, &portBusy) {
		return PortBusy, err.Error()
	}

	var transportErr *gwerrors.TransportError
	if !errors.As(err, &transportErr) {
		return ConnectionError, err.Error()
	}
	cause := transportErr.Cause

	if os.IsNotExist(cause) {
		return PortNotFound, err.Error()
	}

	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		return ConnectionTimeout, err.Error()
	}

	msg := strings.ToLower(cause.Error())
	switch {
	case strings.Contains(msg, "refused"):
		return ConnectionRefused, err.Error()
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "cannot find"):
		return PortNotFound, err.Error()
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "device or resource busy"), strings.Contains(msg, "access denied"):
		return PortNotOpen, err.Error()
	default:
		return ConnectionError, err.Error()
	}
}

func classifyReadError(err error) (ErrorType, string) {
	var modbusErr *pdu.ModbusException
	if errors.As(err, &modbusErr) {
		switch modbusErr.Code {
		case pdu.IllegalFunction:
			return IllegalFunction, err.Error()
		case pdu.IllegalDataAddress:
			return IllegalAddress, err.Error()
		}
		return ConnectionError, err.Error()
	}
	var timeoutErr *gwerrors.Timeout
	if errors.As(err, &timeoutErr) {
		return DeviceNoResponse, err.Error()
	}
	return ConnectionError, err.Error()
}

