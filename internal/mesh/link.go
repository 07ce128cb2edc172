package mesh

import (
	pion "github.com/pion/webrtc/v4"
)

// Peer identifies the remote end of a link.
type Peer struct {
	SocketID string
	UserID   string
	UserType string
	UserName string
}

// Link is one peer connection as the orchestrator drives it. CreateOffer
// and CreateAnswer also apply the result as the local description.
type Link interface {
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetRemoteDescription(pion.SessionDescription) error
	AddICECandidate(pion.ICECandidateInit) error
	Close() error
}

// LinkCallbacks are invoked from transport goroutines.
type LinkCallbacks struct {
	OnICECandidate    func(pion.ICECandidateInit)
	OnConnectionState func(pion.PeerConnectionState)
	OnHello           func(Hello)
	OnTrack           func(kind string)
}

// LinkFactory builds links. Tracks may be empty, in which case the link
// only receives.
type LinkFactory interface {
	NewLink(peer Peer, initiator bool, tracks []pion.TrackLocal, cb LinkCallbacks) (Link, error)
}
