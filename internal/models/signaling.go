package models

import "fmt"

// SignalKind tags the variant of a signaling payload
type SignalKind string

const (
	SignalKindOffer        SignalKind = "offer"
	SignalKindAnswer       SignalKind = "answer"
	SignalKindICECandidate SignalKind = "ice_candidate"
)

// SignalPayload is one piece of connection-setup data exchanged between
// the two parties of a call. Offers and answers carry SDP; candidates
// carry the candidate line plus its media association.
type SignalPayload struct {
	Kind          SignalKind `json:"kind"`
	SDP           string     `json:"sdp,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	SDPMid        string     `json:"sdp_mid,omitempty"`
	SDPMLineIndex *int       `json:"sdp_mline_index,omitempty"`
}

// Validate checks that the payload carries the fields its kind requires
func (p *SignalPayload) Validate() error {
	switch p.Kind {
	case SignalKindOffer, SignalKindAnswer:
		if p.SDP == "" {
			return fmt.Errorf("%s payload requires sdp", p.Kind)
		}
	case SignalKindICECandidate:
		if p.Candidate == "" {
			return fmt.Errorf("ice_candidate payload requires candidate")
		}
	default:
		return fmt.Errorf("unknown signal kind %q", p.Kind)
	}
	return nil
}
