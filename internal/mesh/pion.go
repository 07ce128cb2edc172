package mesh

import (
	"sync"

	pion "github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/config"
)

// PionFactory builds links on pion peer connections.
type PionFactory struct {
	Config pion.Configuration
	Hello  Hello
	Logger *zap.Logger
}

func NewPionFactory(ice config.ICE, hello Hello, logger *zap.Logger) *PionFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PionFactory{
		Config: Configuration(ice),
		Hello:  hello,
		Logger: logger,
	}
}

func (f *PionFactory) NewLink(peer Peer, initiator bool, tracks []pion.TrackLocal, cb LinkCallbacks) (Link, error) {
	pc, err := pion.NewPeerConnection(f.Config)
	if err != nil {
		return nil, NewPeerError("create peer connection", peer.SocketID, err)
	}

	l := &pionLink{
		pc:     pc,
		hello:  f.Hello,
		cb:     cb,
		logger: f.Logger.With(zap.String("peer", peer.SocketID)),
	}

	hasAudio, hasVideo := false, false
	for _, t := range tracks {
		if _, err := pc.AddTrack(t); err != nil {
			pc.Close()
			return nil, NewPeerError("add track", peer.SocketID, err)
		}
		switch t.Kind() {
		case pion.RTPCodecTypeAudio:
			hasAudio = true
		case pion.RTPCodecTypeVideo:
			hasVideo = true
		}
	}

	// The offer decides which media sections exist, so the initiator asks
	// to receive whatever it does not send.
	if initiator {
		recvOnly := pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly}
		if !hasAudio {
			if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, recvOnly); err != nil {
				pc.Close()
				return nil, NewPeerError("add audio transceiver", peer.SocketID, err)
			}
		}
		if !hasVideo {
			if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, recvOnly); err != nil {
				pc.Close()
				return nil, NewPeerError("add video transceiver", peer.SocketID, err)
			}
		}
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || cb.OnICECandidate == nil {
			return
		}
		cb.OnICECandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		if cb.OnConnectionState != nil {
			cb.OnConnectionState(s)
		}
	})
	pc.OnTrack(func(tr *pion.TrackRemote, _ *pion.RTPReceiver) {
		if cb.OnTrack != nil {
			cb.OnTrack(tr.Kind().String())
		}
		go drain(tr)
	})

	if initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(HelloLabel, &pion.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, NewPeerError("create data channel", peer.SocketID, err)
		}
		l.attach(dc)
	} else {
		pc.OnDataChannel(func(dc *pion.DataChannel) {
			if dc.Label() == HelloLabel {
				l.attach(dc)
			}
		})
	}
	return l, nil
}

type pionLink struct {
	pc     *pion.PeerConnection
	hello  Hello
	cb     LinkCallbacks
	logger *zap.Logger

	mu sync.Mutex
	dc *pion.DataChannel
}

func (l *pionLink) attach(dc *pion.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		if err := l.sendHello(); err != nil {
			l.logger.Warn("send hello", zap.Error(err))
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		h, err := DecodeHello(msg.Data)
		if err != nil {
			l.logger.Debug("ignoring data channel frame", zap.Error(err))
			return
		}
		if l.cb.OnHello != nil {
			l.cb.OnHello(h)
		}
	})
}

func (l *pionLink) sendHello() error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	if dc == nil {
		return ErrChannelNotOpen
	}
	data, err := EncodeHello(l.hello)
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (l *pionLink) CreateOffer() (pion.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return pion.SessionDescription{}, NewError("create offer", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return pion.SessionDescription{}, NewError("set local description", err)
	}
	return offer, nil
}

func (l *pionLink) CreateAnswer() (pion.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return pion.SessionDescription{}, NewError("create answer", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return pion.SessionDescription{}, NewError("set local description", err)
	}
	return answer, nil
}

func (l *pionLink) SetRemoteDescription(desc pion.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

func (l *pionLink) AddICECandidate(c pion.ICECandidateInit) error {
	if err := l.pc.AddICECandidate(c); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

// drain reads a remote track so its buffers keep moving. The client does
// not render media.
func drain(tr *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := tr.Read(buf); err != nil {
			return
		}
	}
}
