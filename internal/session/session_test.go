package session

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/numia-vision/vision-server/internal/detect"
	"github.com/numia-vision/vision-server/internal/metrics"
)

type stubEngine struct {
	raws []detect.RawDetection
}

func (s *stubEngine) Detect(ctx context.Context, img image.Image) ([]detect.RawDetection, error) {
	return s.raws, nil
}

type recordingSink struct {
	saved   chan int
	alerted chan int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{saved: make(chan int, 8), alerted: make(chan int, 8)}
}

func (s *recordingSink) SaveDetection(count int, avgConfidence float64, persons []detect.Person) {
	s.saved <- count
}

func (s *recordingSink) RaiseAlert(count, threshold int) {
	s.alerted <- count
}

func onePerson() []detect.RawDetection {
	return []detect.RawDetection{{
		ClassName:  "person",
		Confidence: 0.9,
		BBox:       detect.BBox{X1: 10, Y1: 10, X2: 110, Y2: 210},
	}}
}

func newTestSession(t *testing.T, raws []detect.RawDetection, sink EventSink, threshold int) (*Session, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	adapter := detect.NewAdapter(&stubEngine{raws: raws}, m)
	sess := New(Config{
		Adapter:        adapter,
		Registry:       NewRegistry(),
		Metrics:        m,
		Sink:           sink,
		AlertThreshold: threshold,
	})
	return sess, m
}

func framePayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 64
		img.Pix[i+3] = 255
	}
	payload, err := detect.EncodeFrame(img)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return payload
}

func frameMessage(t *testing.T) []byte {
	t.Helper()
	return []byte(`{"type":"frame","frame":"` + framePayload(t) + `"}`)
}

func TestPingPong(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	resp := sess.Handle(context.Background(), []byte(`{"type":"ping"}`))
	pong, ok := resp.(PongResponse)
	if !ok || pong.Type != "pong" {
		t.Fatalf("got %#v, want pong", resp)
	}
}

func TestMalformedMessageDoesNotBreakSession(t *testing.T) {
	sess, m := newTestSession(t, nil, nil, 0)

	if resp := sess.Handle(context.Background(), []byte(`{not json`)); resp != nil {
		t.Fatalf("malformed message produced response %#v", resp)
	}
	if got := m.ParseErrors.Load(); got != 1 {
		t.Errorf("parse errors metric = %d, want 1", got)
	}

	// Session keeps serving after the bad payload.
	if _, ok := sess.Handle(context.Background(), []byte(`{"type":"ping"}`)).(PongResponse); !ok {
		t.Fatal("ping after malformed message not answered")
	}
}

func TestUnrecognizedTypeIsSkipped(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	if resp := sess.Handle(context.Background(), []byte(`{"type":"selfdestruct"}`)); resp != nil {
		t.Fatalf("unrecognized type produced response %#v", resp)
	}
}

func TestCountingFrameProducesDetection(t *testing.T) {
	sess, m := newTestSession(t, onePerson(), nil, 0)

	resp := sess.Handle(context.Background(), frameMessage(t))
	det, ok := resp.(DetectionResponse)
	if !ok {
		t.Fatalf("got %#v, want DetectionResponse", resp)
	}
	if det.Count != 1 || len(det.Persons) != 1 {
		t.Fatalf("count = %d, persons = %d, want 1/1", det.Count, len(det.Persons))
	}
	if det.Frame == "" {
		t.Fatal("annotated frame missing")
	}
	if len(det.History) != 1 || det.History[0].Count != 1 {
		t.Fatalf("history = %+v, want one sample of count 1", det.History)
	}
	if _, err := time.Parse(time.RFC3339, det.Timestamp); err != nil {
		t.Fatalf("timestamp %q not RFC3339: %v", det.Timestamp, err)
	}
	if sess.Mode() != ModeCounting {
		t.Fatalf("mode = %v, want counting", sess.Mode())
	}
	if got := m.FramesProcessed.Load(); got != 1 {
		t.Errorf("frames processed metric = %d, want 1", got)
	}
}

func TestHistoryAccumulatesAcrossFrames(t *testing.T) {
	engine := &stubEngine{}
	m := metrics.New()
	sess := New(Config{
		Adapter:  detect.NewAdapter(engine, m),
		Registry: NewRegistry(),
		Metrics:  m,
	})

	persons := func(n int) []detect.RawDetection {
		out := make([]detect.RawDetection, n)
		for i := range out {
			out[i] = onePerson()[0]
		}
		return out
	}

	engine.raws = persons(2)
	sess.Handle(context.Background(), frameMessage(t))

	engine.raws = persons(5)
	resp := sess.Handle(context.Background(), frameMessage(t))
	det, ok := resp.(DetectionResponse)
	if !ok {
		t.Fatalf("got %#v, want DetectionResponse", resp)
	}
	n := len(det.History)
	if n != 2 || det.History[n-2].Count != 2 || det.History[n-1].Count != 5 {
		t.Fatalf("history = %+v, want counts ending 2,5", det.History)
	}
}

func TestEmptyFramePayloadIgnored(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	if resp := sess.Handle(context.Background(), []byte(`{"type":"frame","frame":""}`)); resp != nil {
		t.Fatalf("empty frame produced response %#v", resp)
	}
}

func TestInitHeatmapWithDimensions(t *testing.T) {
	sess, m := newTestSession(t, nil, nil, 0)

	resp := sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`))
	ack, ok := resp.(AckResponse)
	if !ok || ack.Type != "heatmap_initialized" || ack.Status != "ok" {
		t.Fatalf("got %#v, want heatmap_initialized ack", resp)
	}
	if sess.Mode() != ModeHeatmapping {
		t.Fatalf("mode = %v, want heatmapping", sess.Mode())
	}
	if got := m.HeatmapSessions.Load(); got != 1 {
		t.Errorf("heatmap sessions metric = %d, want 1", got)
	}
}

func TestInitHeatmapDefaultsTo640x480(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	if _, ok := sess.Handle(context.Background(), []byte(`{"type":"init_heatmap"}`)).(AckResponse); !ok {
		t.Fatal("init without dimensions not acknowledged")
	}
	w, h := sess.heat.Size()
	if w != 640 || h != 480 {
		t.Fatalf("default grid = %dx%d, want 640x480", w, h)
	}
}

func TestInitHeatmapWithReferenceImage(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	raw := []byte(`{"type":"init_heatmap","reference_image":"` + framePayload(t) + `"}`)
	if _, ok := sess.Handle(context.Background(), raw).(AckResponse); !ok {
		t.Fatal("init with reference image not acknowledged")
	}
	if !sess.heat.HasReference() {
		t.Fatal("reference image not bound")
	}
	w, h := sess.heat.Size()
	if w != 320 || h != 240 {
		t.Fatalf("grid = %dx%d, want reference size 320x240", w, h)
	}
}

func TestInitHeatmapRejectsBadReference(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	resp := sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","reference_image":"garbage"}`))
	if _, ok := resp.(ErrorResponse); !ok {
		t.Fatalf("got %#v, want error response", resp)
	}
	if sess.Mode() != ModeIdle {
		t.Fatalf("mode = %v, want idle after failed init", sess.Mode())
	}
}

func TestHeatmapFrameProducesUpdate(t *testing.T) {
	sess, m := newTestSession(t, onePerson(), nil, 0)
	sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`))

	resp := sess.Handle(context.Background(), frameMessage(t))
	upd, ok := resp.(HeatmapUpdateResponse)
	if !ok {
		t.Fatalf("got %#v, want HeatmapUpdateResponse", resp)
	}
	if upd.Count != 1 {
		t.Fatalf("count = %d, want 1", upd.Count)
	}
	if upd.Heatmap == nil || *upd.Heatmap == "" {
		t.Fatal("heatmap overlay missing")
	}
	if upd.Stats.FramesProcessed != 1 || upd.Stats.TotalDetections != 1 {
		t.Fatalf("stats = %+v, want 1 frame / 1 detection", upd.Stats)
	}
	// First frame after a size-only init becomes the reference.
	if !sess.heat.HasReference() {
		t.Fatal("reference not bound from first frame")
	}
	if got := m.HeatmapFolds.Load(); got != 1 {
		t.Errorf("heatmap folds metric = %d, want 1", got)
	}
}

func TestResetHeatmap(t *testing.T) {
	sess, _ := newTestSession(t, onePerson(), nil, 0)

	if _, ok := sess.Handle(context.Background(), []byte(`{"type":"reset_heatmap"}`)).(ErrorResponse); !ok {
		t.Fatal("reset before init must fail")
	}

	sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`))
	sess.Handle(context.Background(), frameMessage(t))

	ack, ok := sess.Handle(context.Background(), []byte(`{"type":"reset_heatmap"}`)).(AckResponse)
	if !ok || ack.Type != "heatmap_reset" {
		t.Fatalf("got %#v, want heatmap_reset ack", ack)
	}
	if s := sess.heat.Stats(); s.FramesProcessed != 0 || s.TotalDetections != 0 {
		t.Fatalf("stats after reset = %+v, want zero", s)
	}
}

func TestGetFinalHeatmap(t *testing.T) {
	sess, _ := newTestSession(t, onePerson(), nil, 0)

	if _, ok := sess.Handle(context.Background(), []byte(`{"type":"get_final_heatmap"}`)).(ErrorResponse); !ok {
		t.Fatal("get_final_heatmap before init must fail")
	}

	sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`))
	sess.Handle(context.Background(), frameMessage(t))

	snap, ok := sess.Handle(context.Background(), []byte(`{"type":"get_final_heatmap"}`)).(SnapshotResponse)
	if !ok || snap.Type != "final_heatmap" {
		t.Fatalf("got %#v, want final_heatmap snapshot", snap)
	}
	if snap.Heatmap == nil {
		t.Fatal("final heatmap render missing")
	}
}

func TestStopHeatmapBeforeInit(t *testing.T) {
	sess, _ := newTestSession(t, nil, nil, 0)
	snap, ok := sess.Handle(context.Background(), []byte(`{"type":"stop_heatmap"}`)).(SnapshotResponse)
	if !ok || snap.Type != "heatmap_stopped" {
		t.Fatalf("got %#v, want heatmap_stopped", snap)
	}
	if snap.Heatmap != nil {
		t.Fatal("stop before init must carry a null heatmap")
	}
	if snap.Stats.FramesProcessed != 0 || snap.Stats.TotalDetections != 0 {
		t.Fatalf("stats = %+v, want zero", snap.Stats)
	}
}

func TestStopHeatmapCachesSnapshot(t *testing.T) {
	sess, _ := newTestSession(t, onePerson(), nil, 0)
	sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`))
	sess.Handle(context.Background(), frameMessage(t))

	first, ok := sess.Handle(context.Background(), []byte(`{"type":"stop_heatmap"}`)).(SnapshotResponse)
	if !ok || first.Type != "heatmap_stopped" || first.Heatmap == nil {
		t.Fatalf("got %#v, want heatmap_stopped with render", first)
	}
	if sess.Mode() != ModeStopped {
		t.Fatalf("mode = %v, want stopped", sess.Mode())
	}

	// Frames after stop are ignored.
	if resp := sess.Handle(context.Background(), frameMessage(t)); resp != nil {
		t.Fatalf("frame after stop produced response %#v", resp)
	}

	// A second stop resends the cached snapshot unchanged.
	second, ok := sess.Handle(context.Background(), []byte(`{"type":"stop_heatmap"}`)).(SnapshotResponse)
	if !ok || second.Heatmap == nil || *second.Heatmap != *first.Heatmap {
		t.Fatal("second stop did not resend the cached snapshot")
	}
	if second.Stats != first.Stats {
		t.Fatalf("cached stats changed: %+v vs %+v", second.Stats, first.Stats)
	}

	// Stopped sessions still serve final heatmap reads.
	snap, ok := sess.Handle(context.Background(), []byte(`{"type":"get_final_heatmap"}`)).(SnapshotResponse)
	if !ok || snap.Type != "final_heatmap" || snap.Heatmap == nil {
		t.Fatalf("get_final_heatmap after stop = %#v", snap)
	}
}

func TestReinitAfterStopResumesHeatmapping(t *testing.T) {
	sess, _ := newTestSession(t, onePerson(), nil, 0)
	sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`))
	sess.Handle(context.Background(), frameMessage(t))
	sess.Handle(context.Background(), []byte(`{"type":"stop_heatmap"}`))

	if _, ok := sess.Handle(context.Background(), []byte(`{"type":"init_heatmap","width":320,"height":240}`)).(AckResponse); !ok {
		t.Fatal("re-init after stop not acknowledged")
	}
	upd, ok := sess.Handle(context.Background(), frameMessage(t)).(HeatmapUpdateResponse)
	if !ok {
		t.Fatal("frame after re-init not folded")
	}
	if upd.Stats.FramesProcessed != 1 {
		t.Fatalf("stats carried over from stopped session: %+v", upd.Stats)
	}
}

func TestAlertFiresAboveThreshold(t *testing.T) {
	raws := make([]detect.RawDetection, 3)
	for i := range raws {
		raws[i] = onePerson()[0]
	}
	sink := newRecordingSink()
	sess, _ := newTestSession(t, raws, sink, 2)

	sess.Handle(context.Background(), frameMessage(t))

	select {
	case count := <-sink.saved:
		if count != 3 {
			t.Fatalf("saved count = %d, want 3", count)
		}
	case <-time.After(time.Second):
		t.Fatal("detection never persisted")
	}
	select {
	case count := <-sink.alerted:
		if count != 3 {
			t.Fatalf("alert count = %d, want 3", count)
		}
	case <-time.After(time.Second):
		t.Fatal("alert never raised")
	}
}

func TestNoAlertAtOrBelowThreshold(t *testing.T) {
	sink := newRecordingSink()
	sess, _ := newTestSession(t, onePerson(), sink, 1)

	sess.Handle(context.Background(), frameMessage(t))

	select {
	case <-sink.saved:
	case <-time.After(time.Second):
		t.Fatal("detection never persisted")
	}
	select {
	case count := <-sink.alerted:
		t.Fatalf("unexpected alert with count %d at threshold", count)
	case <-time.After(50 * time.Millisecond):
	}
}
