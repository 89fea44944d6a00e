package negotiation

import "errors"

var (
	// ErrMediaAcquisition wraps any failure of the media source. It is
	// recoverable: the negotiation state is left untouched.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrStaleDescription is returned when an answer arrives while no local
	// offer is outstanding. The answer is not applied.
	ErrStaleDescription = errors.New("stale session description")

	// ErrNegotiationInProgress is returned by InitiateCall when the machine is
	// not stable. Nothing is sent and the current round continues.
	ErrNegotiationInProgress = errors.New("negotiation already in progress")
)
