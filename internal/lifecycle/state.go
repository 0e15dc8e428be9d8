package lifecycle

type State int

const (
	StateParsed State = iota
	StateInstalling
	// StateInstalled is a version waiting to be activated.
	StateInstalled
	StateActivating
	StateActivated
	// StateRedundant is a version whose installation failed.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}
