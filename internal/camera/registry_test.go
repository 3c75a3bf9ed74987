package camera

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_SelectDevices(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(NewMockDualDiscovery(), nil)

	pair, err := registry.SelectDevices(ctx)
	if err != nil {
		t.Fatalf("SelectDevices failed: %v", err)
	}

	if pair.Back.ID != "mock-back" || pair.Back.Position != PositionBack {
		t.Errorf("Unexpected back device: %+v", pair.Back)
	}
	if pair.Front.ID != "mock-front" || pair.Front.Position != PositionFront {
		t.Errorf("Unexpected front device: %+v", pair.Front)
	}
	if pair.Get(PositionFront).ID != "mock-front" {
		t.Errorf("Pair.Get(front) returned %s", pair.Get(PositionFront).ID)
	}
}

func TestRegistry_SelectDevices_MissingInputs(t *testing.T) {
	ctx := context.Background()

	telephoto := MockDevice("tele-front", PositionFront)
	telephoto.Type = DeviceTypeTelephoto

	testCases := []struct {
		name    string
		devices []Device
	}{
		{"no devices", nil},
		{"back only", []Device{MockDevice("b", PositionBack)}},
		{"front only", []Device{MockDevice("f", PositionFront)}},
		{"front is not wide angle", []Device{MockDevice("b", PositionBack), telephoto}},
		{"two backs", []Device{
			MockDevice("b1", PositionBack),
			MockDevice("b2", PositionBack),
			MockDevice("f", PositionFront),
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			registry := NewRegistry(NewMockDiscovery(tc.devices, true), nil)
			_, err := registry.SelectDevices(ctx)
			if !errors.Is(err, ErrMissingInputs) {
				t.Errorf("Expected ErrMissingInputs, got %v", err)
			}
		})
	}
}

func TestRegistry_QueriesHardwareOnce(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDualDiscovery()
	registry := NewRegistry(discovery, nil)

	for i := 0; i < 3; i++ {
		if _, err := registry.SelectDevices(ctx); err != nil {
			t.Fatalf("SelectDevices failed: %v", err)
		}
	}

	if discovery.ScanCount() != 1 {
		t.Errorf("Expected a single hardware scan, got %d", discovery.ScanCount())
	}
}

func TestRegistry_ScanError(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDualDiscovery()
	scanErr := errors.New("bus error")
	discovery.SetScanError(scanErr)

	registry := NewRegistry(discovery, nil)
	if _, err := registry.SelectDevices(ctx); !errors.Is(err, scanErr) {
		t.Errorf("Expected wrapped scan error, got %v", err)
	}
}

func TestRegistry_RetriesAfterScanError(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDualDiscovery()
	discovery.SetScanError(errors.New("一時的な失敗"))

	registry := NewRegistry(discovery, nil)
	if _, err := registry.SelectDevices(ctx); err == nil {
		t.Fatal("Expected scan error on first call")
	}

	discovery.SetScanError(nil)
	if _, err := registry.SelectDevices(ctx); err != nil {
		t.Fatalf("SelectDevices after recovery failed: %v", err)
	}
	if _, err := registry.SelectDevices(ctx); err != nil {
		t.Fatalf("SelectDevices failed: %v", err)
	}

	// 失敗1回 + 成功1回。成功後は問い合わせない
	if got := discovery.ScanCount(); got != 2 {
		t.Errorf("Expected 2 hardware scans, got %d", got)
	}
}

func TestRegistry_IsDualCaptureSupported(t *testing.T) {
	ctx := context.Background()

	if !NewRegistry(NewMockDualDiscovery(), nil).IsDualCaptureSupported(ctx) {
		t.Error("Expected dual capture to be supported")
	}

	unsupported := NewMockDiscovery([]Device{
		MockDevice("b", PositionBack),
		MockDevice("f", PositionFront),
	}, false)
	if NewRegistry(unsupported, nil).IsDualCaptureSupported(ctx) {
		t.Error("Expected dual capture to be unsupported")
	}
}

func TestParsePosition(t *testing.T) {
	for _, pos := range Positions {
		got, err := ParsePosition(pos.String())
		if err != nil || got != pos {
			t.Errorf("ParsePosition(%q) = %v, %v", pos.String(), got, err)
		}
	}
	if _, err := ParsePosition("side"); err == nil {
		t.Error("Expected error for unknown position")
	}
}
