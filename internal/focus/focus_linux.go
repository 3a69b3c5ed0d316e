//go:build linux

package focus

import (
	"strings"
	"sync"

	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil"
	"github.com/jezek/xgbutil/ewmh"
	"github.com/jezek/xgbutil/icccm"
)

// x11Source resolves the active window via EWMH and reads its WM_CLASS.
type x11Source struct {
	mu sync.Mutex
	xu *xgbutil.XUtil
}

// New connects to the X server lazily; the first query establishes the
// connection so a daemon started before the session is up still works.
func New() (Source, error) {
	return &x11Source{}, nil
}

func (s *x11Source) CurrentApplicationName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.xu == nil {
		xu, err := xgbutil.NewConn()
		if err != nil {
			return DisplaySentinel, err
		}
		s.xu = xu
	}

	win, err := ewmh.ActiveWindowGet(s.xu)
	if err != nil {
		// Connection may have died with the session; force a reconnect
		// on the next poll.
		s.xu.Conn().Close()
		s.xu = nil
		return DisplaySentinel, err
	}
	if win == xproto.WindowNone {
		return DisplaySentinel, nil
	}

	if class, err := icccm.WmClassGet(s.xu, win); err == nil && class.Class != "" {
		return class.Class, nil
	}
	if name, err := ewmh.WmNameGet(s.xu, win); err == nil && strings.TrimSpace(name) != "" {
		return name, nil
	}
	return DisplaySentinel, nil
}

func (s *x11Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.xu != nil {
		s.xu.Conn().Close()
		s.xu = nil
	}
}
