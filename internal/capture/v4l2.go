package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"dualcam/internal/camera"
)

// streamOpener はデバイスのMJPEGストリームを開く
type streamOpener func(ctx context.Context, device string, width, height, fps int) (io.ReadCloser, error)

// V4L2Platform はffmpegを使ってV4L2デバイスからフレームを取得する
// デバイスごとにストリームを1本だけ開き、プレビューと静止画の両シンクへ配る
type V4L2Platform struct {
	width  int
	height int
	fps    int
	logger *slog.Logger

	probe func(ctx context.Context, device string) error
	open  streamOpener

	mu        sync.Mutex
	committed *Graph
	running   bool
	deliver   DeliverFunc
	onError   StreamErrorFunc
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pending   map[camera.Position]bool
}

// NewV4L2Platform は新しいV4L2Platformを作成する
func NewV4L2Platform(width, height, fps int, logger *slog.Logger) *V4L2Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &V4L2Platform{
		width:   width,
		height:  height,
		fps:     fps,
		logger:  logger,
		probe:   probeV4L2Device,
		open:    openFFmpegStream,
		pending: make(map[camera.Position]bool),
	}
}

// OpenInput はv4l2-ctlでデバイスを確認して入力を作成する
func (p *V4L2Platform) OpenInput(ctx context.Context, device camera.Device) (Input, error) {
	if err := p.probe(ctx, device.Path); err != nil {
		return Input{}, err
	}
	return Input{
		ID:     uuid.NewString(),
		Device: device,
		Ports:  []Port{{ID: uuid.NewString(), Media: MediaVideo}},
	}, nil
}

// CanAddInput は常に追加可能
func (p *V4L2Platform) CanAddInput(Input) bool { return true }

// CanAddSink は常に追加可能
func (p *V4L2Platform) CanAddSink(Sink) bool { return true }

// CanAddConnection は常に追加可能
func (p *V4L2Platform) CanAddConnection(Connection) bool { return true }

// Commit は構成を保持する（実際のデバイスはStartRunningで開く）
func (p *V4L2Platform) Commit(_ context.Context, graph *Graph) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("配信中は再構成できません")
	}
	p.committed = graph
	return nil
}

// Release はグラフを解放する
func (p *V4L2Platform) Release(_ context.Context, graph *Graph) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committed == graph {
		p.committed = nil
	}
}

// StartRunning はデバイスごとのストリームを開始する
func (p *V4L2Platform) StartRunning(ctx context.Context, graph *Graph, deliver DeliverFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committed == nil || p.committed != graph {
		return fmt.Errorf("%w: コミットされていないグラフです", ErrNotRunning)
	}
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	streams := make([]io.ReadCloser, 0, len(graph.Inputs))
	for _, input := range graph.Inputs {
		stream, err := p.open(runCtx, input.Device.Path, p.width, p.height, p.fps)
		if err != nil {
			cancel()
			for _, s := range streams {
				_ = s.Close()
			}
			return fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, input.Device.Path, err)
		}
		streams = append(streams, stream)
	}

	p.cancel = cancel
	p.deliver = deliver
	p.running = true
	for i, input := range graph.Inputs {
		p.wg.Add(1)
		go p.streamLoop(runCtx, graph, input.Device.Position, streams[i])
	}

	p.logger.Info("V4L2ストリームを開始しました", "inputs", len(graph.Inputs))
	return nil
}

// SetStreamErrorHandler はffmpegが途中で終了したときのコールバックを設定する
func (p *V4L2Platform) SetStreamErrorHandler(fn StreamErrorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// StopRunning はストリームを停止する
func (p *V4L2Platform) StopRunning(_ context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.pending = make(map[camera.Position]bool)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// CaptureStill は次に届いたフレームを静止画シンクへ配信するよう要求する
func (p *V4L2Platform) CaptureStill(_ context.Context, pos camera.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}
	if _, ok := p.committed.Connection(pos, SinkStill); !ok {
		return fmt.Errorf("%w: %s", ErrNoStillSink, pos)
	}
	p.pending[pos] = true
	return nil
}

// streamLoop はMJPEGストリームを読み、向きを揃えて各シンクへ配る
func (p *V4L2Platform) streamLoop(ctx context.Context, graph *Graph, pos camera.Position, stream io.ReadCloser) {
	defer p.wg.Done()
	defer func() {
		_ = stream.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = stream.Close()
	}()

	preview, hasPreview := graph.Connection(pos, SinkPreview)
	still, hasStill := graph.Connection(pos, SinkStill)
	var seq uint64

	err := splitMJPEG(stream, func(data []byte) bool {
		if ctx.Err() != nil {
			return false
		}

		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			p.logger.Debug("JPEGデコードに失敗", "position", pos, "error", err)
			return true
		}
		seq++
		now := time.Now()

		p.mu.Lock()
		wantStill := hasStill && p.pending[pos]
		if wantStill {
			delete(p.pending, pos)
		}
		deliver := p.deliver
		p.mu.Unlock()

		if hasPreview {
			deliver(Frame{Position: pos, Kind: SinkPreview, Image: Orient(img, preview), CapturedAt: now, Seq: seq})
		}
		if wantStill {
			deliver(Frame{Position: pos, Kind: SinkStill, Image: Orient(img, still), CapturedAt: now, Seq: seq})
		}
		return true
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	p.logger.Error("V4L2ストリームが終了しました", "position", pos, "error", err)

	p.mu.Lock()
	onError := p.onError
	p.mu.Unlock()
	if onError != nil {
		onError(pos, fmt.Errorf("%w: %s: %w", ErrStreamEnded, pos, err))
	}
}

// splitMJPEG はJPEGマーカーでストリームをフレームに分割する
// emitがfalseを返すと読み取りを終了する
func splitMJPEG(r io.Reader, emit func([]byte) bool) error {
	buffer := make([]byte, 64*1024)
	var frameBuffer bytes.Buffer

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			frameBuffer.Write(buffer[:n])

			for {
				data := frameBuffer.Bytes()

				// JPEGの開始マーカー（FF D8）を探す
				startIdx := bytes.Index(data, []byte{0xFF, 0xD8})
				if startIdx == -1 {
					// 末尾の0xFFだけ残す
					if len(data) > 0 && data[len(data)-1] == 0xFF {
						frameBuffer.Reset()
						frameBuffer.WriteByte(0xFF)
					} else {
						frameBuffer.Reset()
					}
					break
				}

				// JPEGの終了マーカー（FF D9）を探す
				endIdx := bytes.Index(data[startIdx+2:], []byte{0xFF, 0xD9})
				if endIdx == -1 {
					if startIdx > 0 {
						rest := append([]byte(nil), data[startIdx:]...)
						frameBuffer.Reset()
						frameBuffer.Write(rest)
					}
					break
				}

				endIdx += startIdx + 2 + 2
				frame := make([]byte, endIdx-startIdx)
				copy(frame, data[startIdx:endIdx])

				rest := append([]byte(nil), data[endIdx:]...)
				frameBuffer.Reset()
				frameBuffer.Write(rest)

				if !emit(frame) {
					return nil
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

// probeV4L2Device はv4l2-ctlでデバイス情報を取得できるか確認する
func probeV4L2Device(ctx context.Context, device string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info").Run(); err != nil {
		return fmt.Errorf("デバイス情報の取得に失敗: %w", err)
	}
	return nil
}

// ffmpegStream はffmpegプロセスの標準出力を閉じるとプロセスも回収する
type ffmpegStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		s.err = s.ReadCloser.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait() // キャンセル時のエラーは無視
	})
	return s.err
}

// openFFmpegStream はffmpegで連続的にMJPEGフレームを出力させる
func openFFmpegStream(ctx context.Context, device string, width, height, fps int) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	return &ffmpegStream{ReadCloser: stdout, cmd: cmd}, nil
}
