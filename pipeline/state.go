package pipeline

// State is the lifecycle state of one stream in a Pipeline.
type State int

const (
	// Disabled streams are not processed. New streams and streams that hit a hard failure are
	// Disabled until a tick finds them enabled with an initialized source.
	Disabled State = iota
	// Idle streams were switched off by the caller and keep their frame history.
	Idle
	// Active streams are pulled and processed every tick.
	Active
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Idle:
		return "idle"
	case Active:
		return "active"
	}
	return "unknown"
}
