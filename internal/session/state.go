package session

// State is the authentication state of a Store.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
	Verifying
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Verifying:
		return "verifying"
	default:
		return "unknown"
	}
}
