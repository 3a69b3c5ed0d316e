//go:build windows

package focus

import (
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
)

type win32Source struct{}

// New creates the Windows focus source.
func New() (Source, error) {
	return &win32Source{}, nil
}

func (s *win32Source) CurrentApplicationName() (string, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return DisplaySentinel, nil
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return DisplaySentinel, nil
	}

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return DisplaySentinel, err
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return DisplaySentinel, err
	}

	exe := filepath.Base(windows.UTF16ToString(buf[:size]))
	return strings.TrimSuffix(exe, filepath.Ext(exe)), nil
}

func (s *win32Source) Close() {}
