package qstate

// Lifecycle is the state of a keychain instance.
type Lifecycle int

const (
	Opening Lifecycle = iota // Loading records from the substrate.
	Ready                    // Serving operations.
	Failed                   // Load failed; the instance is unusable.
	Closed
)

func (s Lifecycle) String() string {
	switch s {
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var lifecycleTransitions = []Transition[Lifecycle]{
	{From: Opening, To: Ready, Name: "loaded"},
	{From: Opening, To: Failed, Name: "load failed"},
	{From: Ready, To: Closed, Name: "close"},
	{From: Failed, To: Closed, Name: "close"},
}

// NewLifecycle returns a machine in the Opening state.
func NewLifecycle(onChange func(from, to Lifecycle, name string)) *Machine[Lifecycle] {
	return New(Opening, lifecycleTransitions, onChange)
}
