package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoFrames       = errors.New("capture: no frames available")
	ErrInvalidDataURL = errors.New("capture: invalid data url")
)

// Source produces one camera snapshot per call.
type Source interface {
	Capture(ctx context.Context) ([]byte, error)
}

type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Capture(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// StaticSource returns the same frame on every capture.
type StaticSource struct {
	frame []byte
}

func NewStaticSource(frame []byte) *StaticSource {
	return &StaticSource{frame: frame}
}

func (s *StaticSource) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.frame) == 0 {
		return nil, ErrNoFrames
	}
	return s.frame, nil
}

// SequenceSource cycles through a fixed list of frames in order.
type SequenceSource struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
}

func NewSequenceSource(frames ...[]byte) *SequenceSource {
	return &SequenceSource{frames: frames}
}

func (s *SequenceSource) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return nil, ErrNoFrames
	}
	frame := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return frame, nil
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Open returns a source for path: a directory yields every image in it in
// name order, a regular file yields itself.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		frame, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading frame %q: %w", path, err)
		}
		return NewStaticSource(frame), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %q", ErrNoFrames, path)
	}

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		frame, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, fmt.Errorf("reading frame %q: %w", name, err)
		}
		frames = append(frames, frame)
	}

	return NewSequenceSource(frames...), nil
}

// EncodeDataURL wraps frame the way a browser screenshot is encoded.
func EncodeDataURL(frame []byte) string {
	mime := http.DetectContentType(frame)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(frame)
}

// DecodeDataURL returns the payload and media type of a base64 data URL.
func DecodeDataURL(s string) ([]byte, string, error) {
	header, encoded, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, "", ErrInvalidDataURL
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}

	mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	return data, mime, nil
}
