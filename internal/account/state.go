package account

// ConnectionStatus tracks the login chain of one trade connection. Transitions
// are driven one-way by gateway callbacks; Done is the only state from which
// account operations other than login are permitted.
type ConnectionStatus int

const (
	Uninitialized ConnectionStatus = iota
	Initializing
	Connecting
	Connected
	Authorizing
	Authorized
	Logining
	LoggedIn
	Confirming
	Done
	LoggingOut
	LoggedOut
)

func (s ConnectionStatus) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authorizing:
		return "authorizing"
	case Authorized:
		return "authorized"
	case Logining:
		return "logining"
	case LoggedIn:
		return "logged_in"
	case Confirming:
		return "confirming"
	case Done:
		return "done"
	case LoggingOut:
		return "logging_out"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}
