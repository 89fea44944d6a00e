package negotiation

// State is the description state of one peer connection.
type State int

const (
	Stable State = iota
	HaveLocalOffer
	HaveRemoteOffer
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case HaveLocalOffer:
		return "have-local-offer"
	case HaveRemoteOffer:
		return "have-remote-offer"
	default:
		return "unknown"
	}
}
