package rtc

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/config"
	"github.com/nexguard/nexguard/internal/frame"
)

type fakeFrames struct {
	frame frame.Frame
	ok    bool
	cams  map[int]capture.Config
}

func (f *fakeFrames) LatestFrame(id int) (frame.Frame, bool) { return f.frame, f.ok }

func (f *fakeFrames) Camera(id int) (capture.Config, error) {
	if cam, ok := f.cams[id]; ok {
		return cam, nil
	}
	return capture.Config{}, capture.ErrCameraNotFound
}

type fakeResults struct {
	res frame.Result
	ok  bool
}

func (f *fakeResults) LatestResults(id int) (frame.Result, bool) { return f.res, f.ok }

func testFrame(num uint64, ts time.Time) frame.Frame {
	return frame.Frame{
		CameraID: 1, Number: num, Width: 8, Height: 8,
		Pixels: make([]byte, 8*8*3), Timestamp: ts,
	}
}

func newTestSession(t *testing.T, frames *fakeFrames, results *fakeResults) *SessionManager {
	t.Helper()
	s, err := NewSessionManager(frames, results, config.WebRTCConfig{StaleAfterSeconds: 2})
	require.NoError(t, err)
	return s
}

func TestNextFrame_FreshResultWins(t *testing.T) {
	now := time.Now()
	res := frame.Result{
		CameraID: 1, Number: 7,
		Annotated: testFrame(7, now),
		Timestamp: now,
	}
	s := newTestSession(t, &fakeFrames{}, &fakeResults{res: res, ok: true})

	st := &viewState{}
	got := s.nextFrame(1, 8, 8, st, now)
	assert.Equal(t, uint64(7), got.Number)
	assert.Equal(t, uint64(7), st.lastResultNum)
}

func TestNextFrame_StaleResultOverlaysRawFrame(t *testing.T) {
	now := time.Now()
	res := frame.Result{
		CameraID: 1, Number: 7,
		Detections: []frame.Detection{{ClassName: "person", Confidence: 0.9, X1: 1, Y1: 1, X2: 6, Y2: 6}},
		Annotated:  testFrame(7, now.Add(-time.Second)),
		Timestamp:  now.Add(-time.Second),
	}
	raw := testFrame(9, now)
	s := newTestSession(t,
		&fakeFrames{frame: raw, ok: true},
		&fakeResults{res: res, ok: true})

	st := &viewState{lastResultNum: 7} // result already shown once
	got := s.nextFrame(1, 8, 8, st, now)

	// Raw frame re-rendered with the last known detections.
	assert.Equal(t, uint64(9), got.Number)
	assert.NotEqual(t, raw.Pixels, got.Pixels)
}

func TestNextFrame_LastRenderedBridgesGaps(t *testing.T) {
	now := time.Now()
	res := frame.Result{
		CameraID: 1, Number: 7,
		Annotated: testFrame(7, now),
		Timestamp: now,
	}
	s := newTestSession(t, &fakeFrames{}, &fakeResults{res: res, ok: true})

	st := &viewState{}
	first := s.nextFrame(1, 8, 8, st, now)
	assert.Equal(t, uint64(7), first.Number)

	// Nothing new one second later: the cached frame bridges the gap
	// instead of flashing the placeholder.
	got := s.nextFrame(1, 8, 8, st, now.Add(time.Second))
	assert.Equal(t, uint64(7), got.Number)
	assert.Equal(t, first.Pixels, got.Pixels)

	// Once the cache ages past the window the placeholder takes over.
	got = s.nextFrame(1, 8, 8, st, now.Add(3*time.Second))
	assert.Equal(t, uint64(0), got.Number)
}

func TestNextFrame_NoSignalWhenEverythingStale(t *testing.T) {
	now := time.Now()
	raw := testFrame(3, now.Add(-time.Minute))
	s := newTestSession(t, &fakeFrames{frame: raw, ok: true}, &fakeResults{})

	got := s.nextFrame(1, 8, 8, &viewState{}, now)
	assert.Equal(t, 1, got.CameraID)
	assert.Equal(t, uint64(0), got.Number)
	assert.Len(t, got.Pixels, 8*8*3)
}

func TestHasPerson(t *testing.T) {
	assert.False(t, hasPerson(nil))
	assert.False(t, hasPerson([]frame.Detection{{ClassName: "car"}}))
	assert.True(t, hasPerson([]frame.Detection{{ClassName: "car"}, {ClassName: "Person"}}))
}

func TestClosePeer_RemovesEmptySubmaps(t *testing.T) {
	s := newTestSession(t, &fakeFrames{}, &fakeResults{})

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)

	s.peers[1] = map[string]*peer{
		"viewer-a": {pc: pc, cancel: func() {}},
	}

	s.ClosePeer(1, "viewer-a")
	assert.Empty(t, s.peers)
	assert.Equal(t, 0, s.Viewers(1))

	// Closing an absent peer is a no-op.
	s.ClosePeer(1, "viewer-a")
	s.ClosePeer(99, "nobody")
}

func TestCloseAll_DropsEveryViewer(t *testing.T) {
	s := newTestSession(t, &fakeFrames{}, &fakeResults{})

	for _, id := range []string{"a", "b"} {
		pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
		require.NoError(t, err)
		if s.peers[1] == nil {
			s.peers[1] = make(map[string]*peer)
		}
		s.peers[1][id] = &peer{pc: pc, cancel: func() {}}
	}

	s.CloseAll()
	assert.Empty(t, s.peers)
}

func TestConnect_UnknownCamera(t *testing.T) {
	s := newTestSession(t, &fakeFrames{cams: map[int]capture.Config{}}, &fakeResults{})

	_, err := s.Connect(context.Background(), 42, "peer", "v=0")
	assert.ErrorIs(t, err, ErrCameraNotFound)
}

type recordedSamples struct {
	samples []media.Sample
}

func (r *recordedSamples) WriteSample(s media.Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

func ivfStream(payloads ...[]byte) *bytes.Reader {
	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header, "DKIF")
	buf.Write(header)
	for _, p := range payloads {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[:4], uint32(len(p)))
		buf.Write(fh)
		buf.Write(p)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestRelayIVF_ForwardsFrames(t *testing.T) {
	out := &recordedSamples{}
	err := relayIVF(ivfStream([]byte("one"), []byte("three")), 50*time.Millisecond, out)
	require.NoError(t, err)
	require.Len(t, out.samples, 2)
	assert.Equal(t, []byte("one"), out.samples[0].Data)
	assert.Equal(t, []byte("three"), out.samples[1].Data)
	assert.Equal(t, 50*time.Millisecond, out.samples[0].Duration)
}

func TestRelayIVF_RejectsBadSignature(t *testing.T) {
	bad := bytes.NewReader(make([]byte, 32))
	err := relayIVF(bad, time.Second, &recordedSamples{})
	assert.Error(t, err)
}

func TestRelayIVF_SkipsEmptyFrames(t *testing.T) {
	out := &recordedSamples{}
	err := relayIVF(ivfStream(nil, []byte("x")), time.Second, out)
	require.NoError(t, err)
	require.Len(t, out.samples, 1)
	assert.Equal(t, []byte("x"), out.samples[0].Data)
}
