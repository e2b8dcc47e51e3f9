package detent

const (
	TypeSetState = "set_state"
	TypeGetState = "get_state"
	TypeState    = "state"
)

// Message is a settings message received from a remote client.
type Message struct {
	Type  string       `json:"type"`
	State *StateFields `json:"state,omitempty"`
}

// StateFields are the settable fields of a set_state message.
type StateFields struct {
	Detents *int `json:"detents,omitempty"`
	Pos     *int `json:"pos,omitempty"`
}

// Snapshot is the state pushed to every remote client.
type Snapshot struct {
	Pos     int  `json:"pos"`
	Detents *int `json:"detents,omitempty"`
}

func GetState() Message {
	return Message{Type: TypeGetState}
}

func SetDetents(n int) Message {
	return Message{Type: TypeSetState, State: &StateFields{Detents: &n}}
}

func SetPos(p int) Message {
	return Message{Type: TypeSetState, State: &StateFields{Pos: &p}}
}

// Merge overlays the fields present in s onto prev.
func Merge(prev, s Snapshot) Snapshot {
	prev.Pos = s.Pos
	if s.Detents != nil {
		d := *s.Detents
		prev.Detents = &d
	}
	return prev
}
