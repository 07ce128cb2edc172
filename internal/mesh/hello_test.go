package mesh

import (
	"net"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/classmesh/internal/config"
)

func TestHello_RoundTrip(t *testing.T) {
	in := Hello{UserID: "t1", Name: "Ms. Frizzle", Role: "teacher", Version: "1.2.0"}
	data, err := EncodeHello(in)
	require.NoError(t, err)

	out, err := DecodeHello(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHello_RejectsOtherFrames(t *testing.T) {
	data, err := msgpack.Marshal(frame{Type: "chunk"})
	require.NoError(t, err)

	_, err = DecodeHello(data)
	assert.ErrorIs(t, err, ErrUnexpectedFrame)

	_, err = DecodeHello([]byte{0xc1})
	assert.Error(t, err)
}

func TestRestrictedInterface(t *testing.T) {
	assert.True(t, restrictedInterface("wg0", nil))
	assert.True(t, restrictedInterface("utun3", nil))
	assert.True(t, restrictedInterface("eth0", []net.IP{net.ParseIP("100.72.1.9")}))
	assert.False(t, restrictedInterface("eth0", []net.IP{net.ParseIP("192.168.1.20")}))
}

func TestConfiguration_RelayPolicy(t *testing.T) {
	orig := detectRestricted
	t.Cleanup(func() { detectRestricted = orig })
	detectRestricted = func() bool { return false }

	cfg := Configuration(config.ICE{STUNServer: config.DefaultSTUN})
	assert.Equal(t, pion.ICETransportPolicyAll, cfg.ICETransportPolicy)
	require.Len(t, cfg.ICEServers, 1)

	cfg = Configuration(config.ICE{STUNServer: config.DefaultSTUN, TURNServer: "turn.example.org", ForceRelay: true})
	assert.Equal(t, pion.ICETransportPolicyRelay, cfg.ICETransportPolicy)
	require.Len(t, cfg.ICEServers, 2)

	detectRestricted = func() bool { return true }
	cfg = Configuration(config.ICE{STUNServer: config.DefaultSTUN})
	assert.Equal(t, pion.ICETransportPolicyAll, cfg.ICETransportPolicy, "no TURN server, nothing to relay through")

	cfg = Configuration(config.ICE{TURNServer: "turn.example.org"})
	assert.Equal(t, pion.ICETransportPolicyRelay, cfg.ICETransportPolicy)
}

func TestPionFactory_BuildsLinks(t *testing.T) {
	orig := detectRestricted
	t.Cleanup(func() { detectRestricted = orig })
	detectRestricted = func() bool { return false }

	f := NewPionFactory(config.ICE{}, Hello{UserID: "me"}, nil)
	initiator, err := f.NewLink(Peer{SocketID: "a"}, true, nil, LinkCallbacks{})
	require.NoError(t, err)
	defer initiator.Close()
	responder, err := f.NewLink(Peer{SocketID: "b"}, false, nil, LinkCallbacks{})
	require.NoError(t, err)
	defer responder.Close()

	offer, err := initiator.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, pion.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "m=application")

	require.NoError(t, responder.SetRemoteDescription(offer))
	answer, err := responder.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, pion.SDPTypeAnswer, answer.Type)
	require.NoError(t, initiator.SetRemoteDescription(answer))
}
