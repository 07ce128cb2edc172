// Package media provides the local tracks a classroom client publishes to
// its peers.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"go.uber.org/zap"
)

var (
	ErrNoDevice         = errors.New("no capture device available")
	ErrPermissionDenied = errors.New("capture permission denied")
)

const (
	frameDuration = 20 * time.Millisecond
	streamID      = "classmesh"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var opusCodec = pion.RTPCodecCapability{
	MimeType:  pion.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// Source acquires local media.
type Source interface {
	Acquire(ctx context.Context) (*Stream, error)
}

// Stream is a set of local tracks fed by background writers.
type Stream struct {
	Tracks []pion.TrackLocal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stop ends the writers and waits for them. Safe to call more than once
// and on a nil stream.
func (s *Stream) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// FromName picks a source for the --media flag: "silence", "none" or a path
// to an Ogg/Opus file.
func FromName(name string, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(name) {
	case "", "silence":
		return Silence{}, nil
	case "none":
		return None{}, nil
	}
	if strings.HasSuffix(strings.ToLower(name), ".ogg") || strings.HasSuffix(strings.ToLower(name), ".opus") {
		return OggFile{Path: name, Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown media source %q (want silence, none or an .ogg file)", name)
}

// None never has a device. Joining with it yields receive-only links.
type None struct{}

func (None) Acquire(context.Context) (*Stream, error) {
	return nil, ErrNoDevice
}

// Silence publishes an Opus track carrying silence frames.
type Silence struct{}

func (Silence) Acquire(ctx context.Context) (*Stream, error) {
	track, err := pion.NewTrackLocalStaticSample(opusCodec, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	s := newStream(track)
	s.run(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
					return
				}
			}
		}
	})
	return s, nil
}

// OggFile publishes the Opus pages of an Ogg file, looping at EOF.
type OggFile struct {
	Path   string
	Logger *zap.Logger
}

func (o OggFile) Acquire(ctx context.Context) (*Stream, error) {
	f, err := os.Open(o.Path)
	if err != nil {
		return nil, classify(err)
	}
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", o.Path, err)
	}

	track, err := pion.NewTrackLocalStaticSample(opusCodec, "audio", streamID)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := newStream(track)
	s.run(ctx, func(ctx context.Context) {
		defer f.Close()
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		var lastGranule uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			page, header, err := ogg.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					logger.Warn("rewind media file", zap.Error(err))
					return
				}
				if ogg, _, err = oggreader.NewWith(f); err != nil {
					logger.Warn("reopen media file", zap.Error(err))
					return
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				logger.Warn("read media page", zap.Error(err))
				return
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			d := time.Duration(float64(samples) / 48000 * float64(time.Second))
			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: d}); err != nil {
				return
			}
		}
	})
	return s, nil
}

func newStream(tracks ...pion.TrackLocal) *Stream {
	return &Stream{Tracks: tracks}
}

func (s *Stream) run(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

// classify maps file errors onto the capture sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
