package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// commandRunner は外部コマンドを実行して標準出力を返す
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)`)

// V4L2Discovery はLinux環境でのカメラデバイス検出を実装する
// V4L2には取り付け位置の概念がないため、位置はデバイスパスの割り当てで決める
type V4L2Discovery struct {
	positions map[string]Position // デバイスパス → 位置
	glob      func(pattern string) ([]string, error)
	run       commandRunner
	available func(device string) bool
}

// NewV4L2Discovery は新しいV4L2Discoveryを作成する
func NewV4L2Discovery(backDevice, frontDevice string) *V4L2Discovery {
	return &V4L2Discovery{
		positions: map[string]Position{
			backDevice:  PositionBack,
			frontDevice: PositionFront,
		},
		glob:      filepath.Glob,
		run:       execRunner,
		available: isReadableDevice,
	}
}

// ScanDevices は位置が割り当てられた利用可能なV4L2デバイスを列挙する
func (d *V4L2Discovery) ScanDevices(ctx context.Context) ([]Device, error) {
	matches, err := d.glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []Device
	for _, path := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		pos, assigned := d.positions[path]
		if !assigned || !d.available(path) {
			continue
		}

		devices = append(devices, Device{
			ID:           fmt.Sprintf("v4l2:%d", extractDeviceNumber(path)),
			Name:         d.deviceName(ctx, path),
			Path:         path,
			Position:     pos,
			Type:         DeviceTypeWideAngle,
			Capabilities: d.capabilities(ctx, path),
		})
	}

	return devices, nil
}

// IsMultiCamSupported は割り当てられた2つのデバイスが別々の物理カメラとして存在するかを返す
func (d *V4L2Discovery) IsMultiCamSupported(ctx context.Context) bool {
	var paths []string
	for path := range d.positions {
		if path == "" || !d.available(path) {
			return false
		}
		paths = append(paths, path)
	}
	if len(paths) != 2 {
		return false
	}

	// 同じカメラの別チャンネルでは同時撮影できない
	return !d.haveSameCameraName(ctx, paths[0], paths[1])
}

// deviceName はv4l2-ctlから実名を取得し、取れなければ番号から生成する
func (d *V4L2Discovery) deviceName(ctx context.Context, device string) string {
	if name := d.v4l2DeviceName(ctx, device); name != "" {
		return name
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// v4l2DeviceName は "Card type" の行からカメラ名を抽出する
func (d *V4L2Discovery) v4l2DeviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := d.run(ctx, "v4l2-ctl", "--device", device, "--info")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

// capabilities はサポートフォーマットと最大解像度を読み取る
func (d *V4L2Discovery) capabilities(ctx context.Context, device string) Capabilities {
	output, err := d.run(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	if err != nil {
		return Capabilities{}
	}

	out := string(output)
	hasColor := strings.Contains(out, "YUYV") || strings.Contains(out, "MJPG")

	return Capabilities{
		MaxResolution: maxDiscreteSize(out),
		SupportsVideo: hasColor,
		SupportsStill: hasColor,
	}
}

var discreteSizePattern = regexp.MustCompile(`Size: Discrete (\d+)x(\d+)`)

// maxDiscreteSize は一覧の中で画素数が最大の解像度を返す
func maxDiscreteSize(listing string) Resolution {
	var best Resolution
	for _, m := range discreteSizePattern.FindAllStringSubmatch(listing, -1) {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		if w*h > best.Width*best.Height {
			best = Resolution{Width: w, Height: h}
		}
	}
	return best
}

// haveSameCameraName は2つのデバイスが同じカメラかチェック
func (d *V4L2Discovery) haveSameCameraName(ctx context.Context, device1, device2 string) bool {
	name1 := d.v4l2DeviceName(ctx, device1)
	name2 := d.v4l2DeviceName(ctx, device2)

	if name1 == "" || name2 == "" {
		return false
	}

	return name1 == name2
}

// isReadableDevice はデバイスファイルが存在し読み取り可能かチェックする
func isReadableDevice(device string) bool {
	if !regexp.MustCompile(`^/dev/video\d+$`).MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu        sync.Mutex
	devices   []Device
	multiCam  bool
	scanErr   error
	scanCount int
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []Device, multiCam bool) *MockDiscovery {
	return &MockDiscovery{
		devices:  devices,
		multiCam: multiCam,
	}
}

// NewMockDualDiscovery は背面・前面の広角カメラを1台ずつ持つモックを作成する
func NewMockDualDiscovery() *MockDiscovery {
	return NewMockDiscovery([]Device{
		MockDevice("mock-back", PositionBack),
		MockDevice("mock-front", PositionFront),
	}, true)
}

// MockDevice はテスト用の広角カメラデバイスを作成する
func MockDevice(id string, pos Position) Device {
	return Device{
		ID:       id,
		Name:     fmt.Sprintf("テストカメラ (%s)", pos),
		Path:     "mock://" + id,
		Position: pos,
		Type:     DeviceTypeWideAngle,
		Capabilities: Capabilities{
			MaxResolution: Resolution{Width: 1920, Height: 1080},
			SupportsVideo: true,
			SupportsStill: true,
		},
	}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scanCount++
	if m.scanErr != nil {
		return nil, m.scanErr
	}

	devices := make([]Device, len(m.devices))
	copy(devices, m.devices)
	return devices, nil
}

// IsMultiCamSupported はモックの対応可否を返す
func (m *MockDiscovery) IsMultiCamSupported(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.multiCam
}

// SetScanError はテスト用にスキャンエラーを設定する
func (m *MockDiscovery) SetScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}

// ScanCount はScanDevicesの呼び出し回数を返す
func (m *MockDiscovery) ScanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanCount
}
