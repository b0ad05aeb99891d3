package journal

import (
	"context"
	"testing"
	"time"

	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// startRecorder runs r until the test ends, returning a cancel that blocks
// until the writer goroutine has drained and exited.
func startRecorder(t *testing.T, r *Recorder) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

// waitForCount polls count until it reaches want or the deadline hits.
func waitForCount(t *testing.T, what string, want int, count func() (int, error)) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := count()
		if err != nil {
			t.Fatalf("counting %s: %v", what, err)
		}
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s", want, what)
}

func TestRecorderWritesPoses(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, "sess-1", RecorderConfig{})
	startRecorder(t, r)

	r.RecordPose(testPose(tracker.StartToDevice, 1.0, tracker.PoseValid))
	r.RecordPose(testPose(tracker.StartToDevice, 2.0, tracker.PoseValid))

	waitForCount(t, "pose rows", 2, func() (int, error) {
		rows, err := s.RecentPoses("sess-1", "", 0)
		return len(rows), err
	})
	if r.Drops() != 0 {
		t.Errorf("Drops = %d, want 0", r.Drops())
	}
}

func TestRecorderRelocalizationDedup(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, "sess-1", RecorderConfig{LoadedUUID: "map-abc"})
	startRecorder(t, r)

	r.RecordPose(testPose(tracker.AreaToDevice, 1.0, tracker.PoseValid))
	r.RecordPose(testPose(tracker.AreaToDevice, 2.0, tracker.PoseValid))

	waitForCount(t, "pose rows", 2, func() (int, error) {
		rows, err := s.RecentPoses("sess-1", "", 0)
		return len(rows), err
	})
	marks, err := s.Relocalizations("sess-1")
	if err != nil {
		t.Fatalf("Relocalizations failed: %v", err)
	}
	if len(marks) != 1 {
		t.Fatalf("got %d relocalization marks, want 1", len(marks))
	}
	if marks[0].ModuleTS != 1.0 || marks[0].MapUUID != "map-abc" {
		t.Errorf("mark = %+v, want first pose timestamp and loaded uuid", marks[0])
	}

	// A tracking reset re-arms the mark.
	r.ResetRelocalization()
	r.RecordPose(testPose(tracker.AreaToDevice, 3.0, tracker.PoseValid))

	waitForCount(t, "relocalization marks", 2, func() (int, error) {
		marks, err := s.Relocalizations("sess-1")
		return len(marks), err
	})
}

func TestRecorderInvalidPoseDoesNotRelocalize(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, "sess-1", RecorderConfig{})
	startRecorder(t, r)

	r.RecordPose(testPose(tracker.AreaToDevice, 1.0, tracker.PoseInvalid))
	r.RecordPose(testPose(tracker.StartToDevice, 2.0, tracker.PoseValid))

	waitForCount(t, "pose rows", 2, func() (int, error) {
		rows, err := s.RecentPoses("sess-1", "", 0)
		return len(rows), err
	})
	marks, err := s.Relocalizations("sess-1")
	if err != nil {
		t.Fatalf("Relocalizations failed: %v", err)
	}
	if len(marks) != 0 {
		t.Errorf("got %d marks, want none for invalid or start-frame poses", len(marks))
	}
}

func TestRecorderSinkWrites(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, "sess-1", RecorderConfig{})
	startRecorder(t, r)

	r.MapSaved("map-new")
	r.MetadataEdited("map-new", "name", "loading dock")
	r.RecordProgress(40)

	waitForCount(t, "map saves", 1, func() (int, error) {
		saves, err := s.SaveHistory(0)
		return len(saves), err
	})
	waitForCount(t, "metadata edits", 1, func() (int, error) {
		edits, err := s.MetadataEdits("map-new")
		return len(edits), err
	})
	waitForCount(t, "progress samples", 1, func() (int, error) {
		samples, err := s.ProgressHistory("sess-1")
		return len(samples), err
	})

	saves, _ := s.SaveHistory(0)
	if saves[0].MapUUID != "map-new" || saves[0].SessionID != "sess-1" {
		t.Errorf("save = %+v, want map-new under sess-1", saves[0])
	}
	samples, _ := s.ProgressHistory("sess-1")
	if samples[0].Percent != 40 {
		t.Errorf("progress = %d, want 40", samples[0].Percent)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	s := newTestStore(t)
	// No writer goroutine, so the queue fills.
	r := NewRecorder(s, "sess-1", RecorderConfig{Buffer: 2})

	for i := 0; i < 5; i++ {
		r.RecordPose(testPose(tracker.StartToDevice, float64(i), tracker.PoseValid))
	}
	if r.Drops() != 3 {
		t.Errorf("Drops = %d, want 3", r.Drops())
	}
}

func TestRecorderPoseSampling(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, "sess-1", RecorderConfig{PoseHz: 1})

	// Burst of one: the second immediate sample is shed before the queue.
	r.RecordPose(testPose(tracker.StartToDevice, 1.0, tracker.PoseValid))
	r.RecordPose(testPose(tracker.StartToDevice, 2.0, tracker.PoseValid))

	if len(r.entries) != 1 {
		t.Errorf("queued %d entries, want 1 after sampling", len(r.entries))
	}
	if r.Drops() != 0 {
		t.Errorf("Drops = %d, want 0; sampled poses are not drops", r.Drops())
	}
}

func TestRecorderDrainsOnCancel(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, "sess-1", RecorderConfig{})

	for i := 0; i < 10; i++ {
		r.RecordPose(testPose(tracker.StartToDevice, float64(i), tracker.PoseValid))
	}

	// Run with an already-canceled context still flushes the queue.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	rows, err := s.RecentPoses("sess-1", "", 0)
	if err != nil {
		t.Fatalf("RecentPoses failed: %v", err)
	}
	if len(rows) != 10 {
		t.Errorf("got %d rows after drain, want 10", len(rows))
	}
}
