package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip container MIME types. The wire format for delivered clips is
// identified by these strings; the server accepts either.
const (
	MIMEWAV      = "audio/wav"
	MIMEWebMOpus = "audio/webm;codecs=opus"
)

// Encoder assembles captured frames into a deliverable clip payload
type Encoder interface {
	// AppendFrame adds one frame of mono samples in [-1, 1]
	AppendFrame(frame []float32)
	// Bytes finalizes and returns the encoded container
	Bytes() ([]byte, error)
	// MIME identifies the container format
	MIME() string
	// Reset discards accumulated samples for reuse
	Reset()
}

// WAVEncoder packs frames into a 16-bit PCM WAV container
type WAVEncoder struct {
	sampleRate int

	mu      sync.Mutex
	samples []float32
}

// NewWAVEncoder creates an encoder for mono samples at the given rate
func NewWAVEncoder(sampleRate int) *WAVEncoder {
	if sampleRate <= 0 {
		sampleRate = DefaultCaptureConfig().SampleRate
	}
	return &WAVEncoder{sampleRate: sampleRate}
}

func (e *WAVEncoder) AppendFrame(frame []float32) {
	e.mu.Lock()
	e.samples = append(e.samples, frame...)
	e.mu.Unlock()
}

func (e *WAVEncoder) MIME() string {
	return MIMEWAV
}

func (e *WAVEncoder) Reset() {
	e.mu.Lock()
	e.samples = e.samples[:0]
	e.mu.Unlock()
}

// SampleCount returns the number of accumulated samples
func (e *WAVEncoder) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}

// Bytes encodes the accumulated samples. The encoder keeps its samples,
// call Reset before starting the next clip.
func (e *WAVEncoder) Bytes() ([]byte, error) {
	e.mu.Lock()
	samples := make([]float32, len(e.samples))
	copy(samples, e.samples)
	e.mu.Unlock()

	if len(samples) == 0 {
		return nil, errors.New("no samples to encode")
	}

	ints := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		ints[i] = int(s * 32767)
	}

	var buf seekBuffer
	enc := wav.NewEncoder(&buf, e.sampleRate, 16, 1, 1)
	if err := enc.Write(&gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: e.sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return buf.data, nil
}

// seekBuffer is an in-memory io.WriteSeeker. The wav encoder seeks back
// to patch header sizes on Close, which bytes.Buffer cannot do.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		if need > cap(b.data) {
			grown := make([]byte, need, need*2)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:need]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("seek before start of buffer")
	}
	b.pos = next
	return int64(next), nil
}
