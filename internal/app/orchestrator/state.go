package orchestrator

type State int

const (
	StateUnstarted State = iota
	StateAttemptingLive
	StateLive
	StateSimulated
	StateFallingBack
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateAttemptingLive:
		return "AttemptingLive"
	case StateLive:
		return "Live"
	case StateSimulated:
		return "Simulated"
	case StateFallingBack:
		return "FallingBack"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// modeGauge encodes the state for the plantpulse_mode gauge.
func modeGauge(s State) float64 {
	switch s {
	case StateLive:
		return 1
	case StateSimulated:
		return 2
	case StateFailed:
		return 3
	default:
		return 0
	}
}

const (
	msgLive           = "Connected to live data source"
	msgNoEndpoint     = "No live endpoint configured; running on simulated data"
	msgUnreachable    = "Live endpoint unreachable; running on simulated data"
	msgFailover       = "Live connection lost; switched to simulated data"
	msgRecovered      = "Live connection restored; switched back to live data"
	msgSimFailed      = "Simulated data could not be started"
	msgFailoverFailed = "Live connection lost and simulated data could not be started"
	msgStopped        = "Stopped"
)

type source int

const (
	sourceLive source = iota
	sourceSim
)

func (s source) String() string {
	if s == sourceLive {
		return "live"
	}
	return "simulated"
}
