//go:build darwin

package focus

import (
	"os/exec"
	"strings"
)

// osaSource shells out to osascript for the frontmost-app query.
type osaSource struct{}

// New creates the macOS focus source.
func New() (Source, error) {
	return &osaSource{}, nil
}

func (s *osaSource) CurrentApplicationName() (string, error) {
	out, err := exec.Command("osascript", "-e",
		`tell application "System Events" to get name of first application process whose frontmost is true`).Output()
	if err != nil {
		return DisplaySentinel, err
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return DisplaySentinel, nil
	}
	return name, nil
}

func (s *osaSource) Close() {}
