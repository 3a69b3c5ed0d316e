// Package focus answers "which application holds window focus right now"
// and drives the periodic poll that feeds the recording controller.
package focus

// DisplaySentinel is reported when no meaningful foreground application
// can be identified (empty desktop, lock screen, query failure).
const DisplaySentinel = "display"

// Source queries the currently focused application on demand.
type Source interface {
	// CurrentApplicationName returns the focused application's name, or
	// DisplaySentinel when none can be determined.
	CurrentApplicationName() (string, error)
	// Close releases any platform connection.
	Close()
}
