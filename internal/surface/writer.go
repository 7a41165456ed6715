package surface

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"sync"

	"embedbot/internal/domain"
)

// Writer prints fills to an io.Writer, one line per fill, prefixed with the
// embed label. The CLI channel uses it.
type Writer struct {
	live *Live
	mu   sync.Mutex
	w    io.Writer
}

func NewWriter(w io.Writer, max int) *Writer {
	return &Writer{live: NewLive(max, nil), w: w}
}

func (s *Writer) Mount(key, label string) {
	s.live.Mount(key, TargetFunc(func(ctx context.Context, markup template.HTML) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, err := fmt.Fprintf(s.w, "[%s] %s\n", label, markup)
		return err
	}))
}

func (s *Writer) Unmount(key string) bool { return s.live.Unmount(key) }

func (s *Writer) Locate(ctx context.Context, key string) (domain.Target, bool) {
	return s.live.Locate(ctx, key)
}
