package session

// State is the position of a session in the matching procedure.
type State uint8

const (
	// StateIdle is the zero state before an attempt is opened.
	StateIdle State = iota
	// StateParmRequested means a parameter request is in flight.
	StateParmRequested
	// StateParmConfirmed means the peer confirmed the attempt parameters.
	StateParmConfirmed
	// StateSounding means the sounding phase is running.
	StateSounding
	// StateAttenCharPending means the profile is finalized and its
	// indication awaits acknowledgement.
	StateAttenCharPending
	// StateAttenCharConfirmed means the peer accepted the profile.
	StateAttenCharConfirmed
	// StateMatching means the final match exchange is in flight.
	StateMatching
	// StateMatched is the terminal success state.
	StateMatched
	// StateFailed is the terminal state for fatal local errors.
	StateFailed
	// StateTimedOut is the terminal state for elapsed deadlines.
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParmRequested:
		return "parm-requested"
	case StateParmConfirmed:
		return "parm-confirmed"
	case StateSounding:
		return "sounding"
	case StateAttenCharPending:
		return "atten-char-pending"
	case StateAttenCharConfirmed:
		return "atten-char-confirmed"
	case StateMatching:
		return "matching"
	case StateMatched:
		return "matched"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed-out"
	}
	return "unknown"
}

// Terminal reports whether the session can no longer advance.
func (s State) Terminal() bool {
	return s == StateMatched || s == StateFailed || s == StateTimedOut
}

// Role selects which end of the link this registry drives. The matching flow
// is shared; the role decides the direction of the network membership key at
// the match step.
type Role uint8

const (
	// RoleStation is the charging-station controller: it generates the
	// network membership key and distributes it in the match confirmation.
	RoleStation Role = iota
	// RoleVehicle is the vehicle controller: it validates and stores the
	// key received in the match confirmation.
	RoleVehicle
)

func (r Role) String() string {
	if r == RoleVehicle {
		return "vehicle"
	}
	return "station"
}
