// Package mesh builds the full mesh of peer connections a classroom
// client keeps with everyone else in its room.
package mesh

import (
	"context"
	"sort"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/BioHazard786/classmesh/internal/media"
	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/signalclient"
)

// Signaler sends gateway messages. *signalclient.Client satisfies it.
type Signaler interface {
	Send(msgType string, payload any) error
}

type NoticeKind int

const (
	NoticeLinkState NoticeKind = iota
	NoticeTransport
	NoticeHello
	NoticeTrack
	NoticeWarning
)

// Notice reports something the UI may want to show.
type Notice struct {
	Kind      NoticeKind
	Peer      Peer
	State     State
	Transport pion.PeerConnectionState
	Hello     *Hello
	TrackKind string
	Err       error
}

// LinkInfo is a snapshot of one link.
type LinkInfo struct {
	Peer      Peer
	State     State
	Initiator bool
	Transport pion.PeerConnectionState
	Hello     *Hello
}

type Options struct {
	Signaler Signaler
	Factory  LinkFactory
	Media    media.Source
	Logger   *zap.Logger
	// NoticeBuffer bounds undelivered notices; extra ones are dropped.
	NoticeBuffer int
}

// Orchestrator owns every link of one client. All link state lives on the
// goroutine running Run; everything else posts work to it.
type Orchestrator struct {
	sig     Signaler
	factory LinkFactory
	source  media.Source
	logger  *zap.Logger

	inbox   *mailbox
	notices chan Notice
	done    chan struct{}
	runOnce sync.Once

	// Owned by the loop.
	self     Peer
	classID  string
	socketID string
	stream   *media.Stream
	roster   map[string]Peer
	links    map[string]*peerLink
}

type peerLink struct {
	peer      Peer
	link      Link
	state     State
	initiator bool
	transport pion.PeerConnectionState
	hello     *Hello

	remoteSet bool
	pending   []pion.ICECandidateInit
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NoticeBuffer <= 0 {
		opts.NoticeBuffer = 64
	}
	return &Orchestrator{
		sig:     opts.Signaler,
		factory: opts.Factory,
		source:  opts.Media,
		logger:  opts.Logger,
		inbox:   newMailbox(),
		notices: make(chan Notice, opts.NoticeBuffer),
		done:    make(chan struct{}),
		roster:  make(map[string]Peer),
		links:   make(map[string]*peerLink),
	}
}

// Notices delivers link and warning notices. It is never closed.
func (o *Orchestrator) Notices() <-chan Notice {
	return o.notices
}

// Run processes posted work until ctx ends. On exit every link is closed
// and local media is stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := false
	o.runOnce.Do(func() { started = true })
	if !started {
		return ErrStopped
	}
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-o.inbox.wake:
			for _, fn := range o.inbox.take() {
				fn()
			}
		}
	}
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(fn func()) error {
	finished := make(chan struct{})
	o.inbox.put(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

// Join acquires local media and announces the client in classID. A media
// failure is reported as a warning notice and the join goes ahead with
// receive-only links.
func (o *Orchestrator) Join(ctx context.Context, classID string, self Peer) error {
	var stream *media.Stream
	if o.source != nil {
		s, err := o.source.Acquire(ctx)
		if err != nil {
			o.logger.Warn("local media unavailable, joining receive-only", zap.Error(err))
			o.notify(Notice{Kind: NoticeWarning, Err: NewError("acquire media", err)})
		} else {
			stream = s
		}
	}

	var joinErr error
	err := o.call(func() {
		if o.classID != "" {
			joinErr = ErrAlreadyJoined
			return
		}
		o.self = self
		o.classID = classID
		o.stream = stream
		joinErr = o.sig.Send(protocol.TypeJoin, protocol.JoinPayload{
			ClassID:  classID,
			UserID:   self.UserID,
			UserType: self.UserType,
			UserName: self.UserName,
		})
		if joinErr != nil {
			o.classID = ""
			o.stream = nil
		}
	})
	if err == nil {
		err = joinErr
	}
	if err != nil {
		stream.Stop()
		return err
	}
	return nil
}

// Leave closes every link, stops local media and tells the gateway. It
// returns once all of that is done.
func (o *Orchestrator) Leave() error {
	return o.call(o.leave)
}

// Handle feeds a gateway event into the loop. Events must be handed over in
// the order they arrived.
func (o *Orchestrator) Handle(ev signalclient.Event) {
	o.inbox.put(func() { o.dispatch(ev) })
}

// Links returns a snapshot of the live links sorted by user id.
func (o *Orchestrator) Links() []LinkInfo {
	var out []LinkInfo
	o.call(func() {
		out = make([]LinkInfo, 0, len(o.links))
		for _, pl := range o.links {
			out = append(out, LinkInfo{
				Peer:      pl.peer,
				State:     pl.state,
				Initiator: pl.initiator,
				Transport: pl.transport,
				Hello:     pl.hello,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer.UserID != out[j].Peer.UserID {
			return out[i].Peer.UserID < out[j].Peer.UserID
		}
		return out[i].Peer.SocketID < out[j].Peer.SocketID
	})
	return out
}

// SocketID is the id the gateway assigned on join, empty before that.
func (o *Orchestrator) SocketID() string {
	var id string
	o.call(func() { id = o.socketID })
	return id
}

func (o *Orchestrator) dispatch(ev signalclient.Event) {
	switch ev.Type {
	case protocol.TypeJoined:
		o.socketID = ev.Joined.SocketID
		for _, p := range ev.Joined.Participants {
			o.roster[p.SocketID] = peerFrom(p)
		}
	case protocol.TypeParticipantJoined:
		o.onParticipantJoined(peerFrom(*ev.Participant))
	case protocol.TypeParticipantLeft:
		delete(o.roster, ev.Left.SocketID)
		if pl := o.links[ev.Left.SocketID]; pl != nil {
			o.closeLink(pl)
		}
	case protocol.TypeOffer:
		o.onOffer(ev.Offer)
	case protocol.TypeAnswer:
		o.onAnswer(ev.Answer)
	case protocol.TypeICECandidate:
		o.onCandidate(ev.Candidate)
	case protocol.TypeClassEnded:
		o.closeAll()
		o.stream.Stop()
		o.stream = nil
		o.classID = ""
	}
}

func peerFrom(p protocol.ParticipantInfo) Peer {
	return Peer{SocketID: p.SocketID, UserID: p.UserID, UserType: p.UserType, UserName: p.UserName}
}

// onParticipantJoined initiates toward a newcomer.
func (o *Orchestrator) onParticipantJoined(peer Peer) {
	if peer.SocketID == "" || peer.SocketID == o.socketID {
		return
	}
	o.roster[peer.SocketID] = peer
	if old := o.links[peer.SocketID]; old != nil {
		o.closeLink(old)
	}

	pl, err := o.newLink(peer, true)
	if err != nil {
		o.warn(err)
		return
	}
	o.setState(pl, StateOffering)

	offer, err := pl.link.CreateOffer()
	if err != nil {
		o.fail(pl, err)
		return
	}
	if err := o.sig.Send(protocol.TypeOffer, protocol.OfferPayload{Offer: offer, TargetSocketID: peer.SocketID}); err != nil {
		o.fail(pl, NewPeerError("send offer", peer.SocketID, err))
		return
	}
	o.setState(pl, StateAwaitingAnswer)
}

func (o *Orchestrator) onOffer(p *protocol.OfferPayload) {
	if p.FromSocketID == "" {
		return
	}
	peer, ok := o.roster[p.FromSocketID]
	if !ok {
		peer = Peer{SocketID: p.FromSocketID, UserID: p.FromUserID}
	}
	if old := o.links[p.FromSocketID]; old != nil {
		o.logger.Warn("replacing link on new offer",
			zap.String("peer", p.FromSocketID), zap.Stringer("state", old.state))
		o.closeLink(old)
	}

	pl, err := o.newLink(peer, false)
	if err != nil {
		o.warn(err)
		return
	}
	o.setState(pl, StateOfferReceived)

	if err := pl.link.SetRemoteDescription(p.Offer); err != nil {
		o.fail(pl, err)
		return
	}
	o.remoteApplied(pl)

	answer, err := pl.link.CreateAnswer()
	if err != nil {
		o.fail(pl, err)
		return
	}
	if err := o.sig.Send(protocol.TypeAnswer, protocol.AnswerPayload{Answer: answer, TargetSocketID: peer.SocketID}); err != nil {
		o.fail(pl, NewPeerError("send answer", peer.SocketID, err))
		return
	}
	o.setState(pl, StateAnswered)
	o.setState(pl, StateConnected)
}

func (o *Orchestrator) onAnswer(p *protocol.AnswerPayload) {
	pl := o.links[p.FromSocketID]
	if pl == nil || pl.state != StateAwaitingAnswer {
		o.logger.Debug("ignoring answer", zap.String("peer", p.FromSocketID))
		return
	}
	if err := pl.link.SetRemoteDescription(p.Answer); err != nil {
		o.fail(pl, err)
		return
	}
	o.remoteApplied(pl)
	o.setState(pl, StateConnected)
}

// onCandidate applies a remote candidate, holding it back until the remote
// description is in place.
func (o *Orchestrator) onCandidate(p *protocol.ICECandidatePayload) {
	pl := o.links[p.FromSocketID]
	if pl == nil {
		o.logger.Debug("dropping candidate for unknown link", zap.String("peer", p.FromSocketID))
		return
	}
	if !pl.remoteSet {
		pl.pending = append(pl.pending, p.Candidate)
		return
	}
	if err := pl.link.AddICECandidate(p.Candidate); err != nil {
		o.logger.Warn("add ICE candidate", zap.String("peer", pl.peer.SocketID), zap.Error(err))
	}
}

func (o *Orchestrator) remoteApplied(pl *peerLink) {
	pl.remoteSet = true
	for _, c := range pl.pending {
		if err := pl.link.AddICECandidate(c); err != nil {
			o.logger.Warn("add buffered ICE candidate", zap.String("peer", pl.peer.SocketID), zap.Error(err))
		}
	}
	pl.pending = nil
}

func (o *Orchestrator) newLink(peer Peer, initiator bool) (*peerLink, error) {
	pl := &peerLink{peer: peer, initiator: initiator, state: StateIdle}
	cb := LinkCallbacks{
		OnICECandidate: func(c pion.ICECandidateInit) {
			o.inbox.put(func() { o.sendCandidate(pl, c) })
		},
		OnConnectionState: func(s pion.PeerConnectionState) {
			o.inbox.put(func() { o.transportChanged(pl, s) })
		},
		OnHello: func(h Hello) {
			o.inbox.put(func() { o.helloReceived(pl, h) })
		},
		OnTrack: func(kind string) {
			o.inbox.put(func() {
				if o.current(pl) {
					o.notify(Notice{Kind: NoticeTrack, Peer: pl.peer, TrackKind: kind})
				}
			})
		},
	}

	var tracks []pion.TrackLocal
	if o.stream != nil {
		tracks = o.stream.Tracks
	}
	link, err := o.factory.NewLink(peer, initiator, tracks, cb)
	if err != nil {
		return nil, err
	}
	pl.link = link
	o.links[peer.SocketID] = pl
	return pl, nil
}

// current reports whether pl is still the live link for its peer.
func (o *Orchestrator) current(pl *peerLink) bool {
	return o.links[pl.peer.SocketID] == pl
}

func (o *Orchestrator) sendCandidate(pl *peerLink, c pion.ICECandidateInit) {
	if !o.current(pl) {
		return
	}
	err := o.sig.Send(protocol.TypeICECandidate, protocol.ICECandidatePayload{
		Candidate:      c,
		TargetSocketID: pl.peer.SocketID,
	})
	if err != nil {
		o.logger.Debug("send ICE candidate", zap.String("peer", pl.peer.SocketID), zap.Error(err))
	}
}

func (o *Orchestrator) transportChanged(pl *peerLink, s pion.PeerConnectionState) {
	if !o.current(pl) {
		return
	}
	pl.transport = s
	o.notify(Notice{Kind: NoticeTransport, Peer: pl.peer, Transport: s})
	if s == pion.PeerConnectionStateFailed {
		o.fail(pl, NewPeerError("connect", pl.peer.SocketID, ErrConnectionFailed))
	}
}

func (o *Orchestrator) helloReceived(pl *peerLink, h Hello) {
	if !o.current(pl) {
		return
	}
	pl.hello = &h
	if pl.peer.UserName == "" {
		pl.peer.UserName = h.Name
	}
	o.notify(Notice{Kind: NoticeHello, Peer: pl.peer, Hello: &h})
}

func (o *Orchestrator) setState(pl *peerLink, s State) {
	pl.state = s
	o.notify(Notice{Kind: NoticeLinkState, Peer: pl.peer, State: s})
}

// fail closes a link after an unrecoverable error. There is no retry.
func (o *Orchestrator) fail(pl *peerLink, err error) {
	o.warn(err)
	o.closeLink(pl)
}

func (o *Orchestrator) warn(err error) {
	o.logger.Warn("link error", zap.Error(err))
	o.notify(Notice{Kind: NoticeWarning, Err: err})
}

func (o *Orchestrator) closeLink(pl *peerLink) {
	if o.current(pl) {
		delete(o.links, pl.peer.SocketID)
	}
	if err := pl.link.Close(); err != nil {
		o.logger.Debug("close link", zap.String("peer", pl.peer.SocketID), zap.Error(err))
	}
	o.setState(pl, StateClosed)
}

func (o *Orchestrator) closeAll() {
	for _, pl := range o.links {
		o.closeLink(pl)
	}
	o.roster = make(map[string]Peer)
}

func (o *Orchestrator) leave() {
	o.closeAll()
	o.stream.Stop()
	o.stream = nil
	if o.classID != "" {
		if err := o.sig.Send(protocol.TypeLeave, protocol.LeavePayload{ClassID: o.classID}); err != nil {
			o.logger.Debug("send leave", zap.Error(err))
		}
	}
	o.classID = ""
	o.socketID = ""
}

func (o *Orchestrator) shutdown() {
	for _, fn := range o.inbox.take() {
		fn()
	}
	o.leave()
}

func (o *Orchestrator) notify(n Notice) {
	select {
	case o.notices <- n:
	default:
		o.logger.Debug("notice dropped", zap.Int("kind", int(n.Kind)))
	}
}

// mailbox is an unbounded FIFO of loop work. put never blocks, so
// transport callbacks firing during Close cannot deadlock the loop.
type mailbox struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) put(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
