package surface

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/term"
)

// TerminalHost announces the surface on a terminal: it prints where the
// confirmation UI lives when the surface opens and when it is focused again.
type TerminalHost struct {
	out       io.Writer
	uiURL     string
	highlight bool

	mu      sync.Mutex
	handles map[Handle]struct{}
}

// NewTerminalHost writes to f; ANSI highlighting is used only when f is a terminal.
func NewTerminalHost(f *os.File, uiURL string) *TerminalHost {
	return newTerminalHost(f, uiURL, term.IsTerminal(int(f.Fd())))
}

func newTerminalHost(out io.Writer, uiURL string, highlight bool) *TerminalHost {
	return &TerminalHost{
		out:       out,
		uiURL:     uiURL,
		highlight: highlight,
		handles:   make(map[Handle]struct{}),
	}
}

func (t *TerminalHost) Open(_ context.Context) (Handle, error) {
	h := Handle(uuid.NewString())

	t.mu.Lock()
	t.handles[h] = struct{}{}
	t.mu.Unlock()

	t.printf("requests are waiting for approval: %s", t.uiURL)
	return h, nil
}

func (t *TerminalHost) Close(h Handle) error {
	t.mu.Lock()
	_, ok := t.handles[h]
	delete(t.handles, h)
	t.mu.Unlock()

	if !ok {
		return errors.Newf("unknown surface handle %s", h)
	}
	t.printf("all requests handled")
	return nil
}

func (t *TerminalHost) IsOpen(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handles[h]
	return ok
}

func (t *TerminalHost) Focus(h Handle) error {
	if !t.IsOpen(h) {
		return errors.Newf("unknown surface handle %s", h)
	}
	t.printf("more requests are waiting: %s", t.uiURL)
	return nil
}

func (t *TerminalHost) printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if t.highlight {
		msg = "\x1b[1;33m" + msg + "\x1b[0m"
	}
	_, _ = fmt.Fprintln(t.out, msg)
}

// LogBadge records the pending count and logs changes.
type LogBadge struct {
	n atomic.Int64
}

func (b *LogBadge) SetPendingCount(n int) {
	if old := b.n.Swap(int64(n)); old != int64(n) {
		log.Info("pending requests", "count", n)
	}
}

func (b *LogBadge) Count() int { return int(b.n.Load()) }
