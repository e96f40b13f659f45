package domain

// SessionState is a render session's position in its lifecycle.
type SessionState int

const (
	StateIdle SessionState = iota
	StateLaunching
	StateLaunched
	StateLoadingContent
	StateContentReady
	StateExporting
	StateExported
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateLaunching:      "Launching",
	StateLaunched:       "Launched",
	StateLoadingContent: "LoadingContent",
	StateContentReady:   "ContentReady",
	StateExporting:      "Exporting",
	StateExported:       "Exported",
	StateFailed:         "Failed",
	StateClosed:         "Closed",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further work may run in state s.
func (s SessionState) Terminal() bool {
	return s == StateExported || s == StateFailed || s == StateClosed
}
