package gatewayapi

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/config"
	"github.com/raohassandev/modbus-gateway/internal/modbustest"
)

func mustSplitPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("SplitHostPort(%s) error = %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi(%s) error = %v", portStr, err)
	}
	return port
}

const seedTemplate = `
- id: dev-1
  name: Test Device
  make: generic
  enabled: true
  transport: tcp
  tcp:
    host: 127.0.0.1
    port: %d
    unit_id: 1
    timeout_ms: 2000
  data_points:
    - function_code: 3
      start_address: 0
      count: 2
      parameters:
        - name: temperature
          data_type: UINT16
          register_index: 0
          byte_order: AB
`

func newTestGateway(t *testing.T) (*Gateway, *modbustest.Server) {
	t.Helper()
	srv := modbustest.NewServer()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(srv.Close)
	srv.SetHoldingRegister(0, 234)

	port := mustSplitPort(t, srv.Addr())
	dir := t.TempDir()

	seedPath := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(seedPath, []byte(fmt.Sprintf(seedTemplate, port)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			DevicesPath:  filepath.Join(dir, "devices.db"),
			EventLogPath: filepath.Join(dir, "events.db"),
			HistoryPath:  filepath.Join(dir, "history.db"),
		},
		BringUp: config.BringUpConfig{TimeoutMs: 2000},
		Devices: config.DevicesConfig{SeedPath: seedPath},
	}

	gw, err := Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw, srv
}

func TestOpenSeedsDevicesFromYAML(t *testing.T) {
	gw, _ := newTestGateway(t)

	devices, err := gw.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "dev-1" {
		t.Fatalf("ListDevices() = %+v, want one device dev-1", devices)
	}
}

func TestStartBringsUpFleetAndPollDeviceReturnsReading(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	reading, err := gw.PollDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("PollDevice() error = %v", err)
	}
	if len(reading.Entries) == 0 {
		t.Fatal("PollDevice() returned no entries")
	}
	if reading.Entries[0].Value == nil || *reading.Entries[0].Value != float64(234) {
		t.Fatalf("Entries[0].Value = %v, want 234", reading.Entries[0].Value)
	}

	if _, ok := gw.LatestReading("dev-1"); !ok {
		t.Fatal("LatestReading() found nothing after PollDevice")
	}
}

func TestDiagnoseDeviceReportsOK(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	result, err := gw.DiagnoseDevice(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DiagnoseDevice() error = %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("Status = %q, want ok (message: %s)", result.Status, result.Message)
	}
}

func TestDiagnoseDeviceUnknownIDReturnsError(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	if _, err := gw.DiagnoseDevice(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown device ID")
	} else if !strings.Contains(err.Error(), "does-not-exist") {
		t.Fatalf("error = %v, want it to mention the device ID", err)
	}
}
