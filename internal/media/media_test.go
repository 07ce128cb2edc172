package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromName(t *testing.T) {
	src, err := FromName("silence", nil)
	require.NoError(t, err)
	assert.IsType(t, Silence{}, src)

	src, err = FromName("NONE", nil)
	require.NoError(t, err)
	assert.IsType(t, None{}, src)

	src, err = FromName("lecture.ogg", nil)
	require.NoError(t, err)
	assert.IsType(t, OggFile{}, src)

	_, err = FromName("webcam", nil)
	assert.Error(t, err)
}

func TestSilence_PublishesOneAudioTrack(t *testing.T) {
	s, err := Silence{}.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Tracks, 1)
	assert.Equal(t, pion.RTPCodecTypeAudio, s.Tracks[0].Kind())
	assert.Equal(t, streamID, s.Tracks[0].StreamID())

	s.Stop()
	s.Stop()
}

func TestNone_NoDevice(t *testing.T) {
	s, err := None{}.Acquire(context.Background())
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrNoDevice)
	s.Stop()
}

func TestOggFile_Missing(t *testing.T) {
	_, err := OggFile{Path: filepath.Join(t.TempDir(), "absent.ogg")}.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestOggFile_NotOgg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.ogg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not ogg"), 0o600))

	_, err := OggFile{Path: path}.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDevice)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(os.ErrNotExist), ErrNoDevice)
	assert.ErrorIs(t, classify(os.ErrPermission), ErrPermissionDenied)
}
