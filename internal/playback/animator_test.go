package playback

import (
	"math"
	"testing"
	"time"

	"github.com/Pi2608/storymap-live/internal/geo"
	"github.com/Pi2608/storymap-live/internal/storymap"
)

func TestRouteAnimatorCompletesExactlyOnce(t *testing.T) {
	sched := newManualScheduler()
	surface := newStubSurface()
	anim := NewRouteAnimator(sched, surface, testRoute("r-1", time.Second))

	completions := 0
	anim.SetOnComplete(func(string) { completions++ })

	t0 := time.Unix(1000, 0)
	anim.SetPlaying(true)
	sched.Step(t0) // start frame, progress 0
	if anim.State() != StateRunning {
		t.Fatalf("state = %s, want running", anim.State())
	}

	sched.Step(t0.Add(500 * time.Millisecond))
	if p := anim.Progress().Progress; math.Abs(p-0.5) > 1e-9 {
		t.Errorf("progress at 500ms = %f, want 0.5", p)
	}

	sched.Step(t0.Add(time.Second))
	if anim.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", anim.State())
	}
	if p := anim.Progress().Progress; p != 1 {
		t.Errorf("progress = %f, want exactly 1", p)
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}

	// Re-issuing play after completion must not replay or re-fire.
	anim.SetPlaying(true)
	sched.Step(t0.Add(2 * time.Second))
	if completions != 1 {
		t.Errorf("completions after replay attempt = %d, want 1", completions)
	}
	if sched.pendingCount() != 0 {
		t.Errorf("completed animator still schedules ticks")
	}
}

func TestRouteAnimatorEndToEnd(t *testing.T) {
	sched := newManualScheduler()
	surface := newStubSurface()
	anim := NewRouteAnimator(sched, surface, testRoute("r-1", 10*time.Second))
	anim.SetPlaying(true)

	t0 := time.Unix(0, 0)
	steps := []struct {
		at           time.Duration
		wantProgress float64
		wantLat      float64
	}{
		{0, 0, 0},
		{2500 * time.Millisecond, 0.25, 0.5},
		{5000 * time.Millisecond, 0.5, 1.0},
		{7500 * time.Millisecond, 0.75, 1.5},
		{10000 * time.Millisecond, 1.0, 2.0},
	}
	for _, step := range steps {
		sched.Step(t0.Add(step.at))
		p := anim.Progress()
		if math.Abs(p.Progress-step.wantProgress) > 1e-6 {
			t.Errorf("t=%s: progress = %f, want %f", step.at, p.Progress, step.wantProgress)
		}
		if math.Abs(p.Position.Lat-step.wantLat) > 0.01 {
			t.Errorf("t=%s: lat = %f, want ~%f", step.at, p.Position.Lat, step.wantLat)
		}
	}

	// Visited trail covers the whole path at completion.
	visited := anim.Progress().VisitedPath
	total := geo.PathLength(geo.Path{{Lng: 0, Lat: 0}, {Lng: 0, Lat: 1}, {Lng: 0, Lat: 2}})
	if math.Abs(geo.PathLength(visited)-total) > 1e-6 {
		t.Errorf("visited length = %f, want %f", geo.PathLength(visited), total)
	}
}

func TestRouteAnimatorPauseResetsToStart(t *testing.T) {
	sched := newManualScheduler()
	surface := newStubSurface()
	route := testRoute("r-1", time.Second)
	anim := NewRouteAnimator(sched, surface, route)
	anim.SetPlaying(true)

	t0 := time.Unix(1000, 0)
	sched.Step(t0)
	sched.Step(t0.Add(400 * time.Millisecond))
	if anim.Progress().Progress == 0 {
		t.Fatal("expected mid-flight progress before pause")
	}

	anim.SetPlaying(false)
	if anim.State() != StateIdle {
		t.Errorf("state after pause = %s, want idle", anim.State())
	}
	p := anim.Progress()
	if p.Position != route.From {
		t.Errorf("position after pause = %+v, want from endpoint %+v", p.Position, route.From)
	}
	if len(p.VisitedPath) != 0 {
		t.Errorf("visited path after pause has %d points, want 0", len(p.VisitedPath))
	}
	if overlay := surface.overlay("r-1"); overlay == nil || overlay.resetCalls == 0 {
		t.Error("overlay was not reset on pause")
	}
}

func TestRouteAnimatorSingleTickOvershootClampsToOne(t *testing.T) {
	sched := newManualScheduler()
	anim := NewRouteAnimator(sched, newStubSurface(), testRoute("r-1", 10*time.Millisecond))

	completions := 0
	anim.SetOnComplete(func(string) { completions++ })
	anim.SetPlaying(true)

	t0 := time.Unix(1000, 0)
	sched.Step(t0)
	// Host loop stalls far past the duration.
	sched.Step(t0.Add(5 * time.Second))
	if p := anim.Progress().Progress; p != 1 {
		t.Errorf("progress = %f, want exactly 1 (never past)", p)
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
}

func TestRouteAnimatorEmptyPathCompletesOnFirstTick(t *testing.T) {
	sched := newManualScheduler()
	route := storymap.RouteSpec{
		ID:       "r-empty",
		From:     geo.GeoPoint{Lng: 1, Lat: 1},
		To:       geo.GeoPoint{Lng: 2, Lat: 2},
		Duration: time.Second,
	}
	anim := NewRouteAnimator(sched, newStubSurface(), route)

	completions := 0
	anim.SetOnComplete(func(string) { completions++ })
	anim.SetPlaying(true)
	sched.Step(time.Unix(1000, 0))

	if anim.State() != StateCompleted {
		t.Errorf("state = %s, want completed", anim.State())
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
}

func TestRouteAnimatorSurfaceNotReadyRetriesOnce(t *testing.T) {
	sched := newManualScheduler()
	surface := newStubSurface()
	surface.failNext = 1
	anim := NewRouteAnimator(sched, surface, testRoute("r-1", time.Second))

	anim.SetPlaying(true) // first acquire fails
	t0 := time.Unix(1000, 0)
	sched.Step(t0) // deferred retry succeeds
	sched.Step(t0.Add(100 * time.Millisecond))

	overlay := surface.overlay("r-1")
	if overlay == nil {
		t.Fatal("overlay not acquired on deferred retry")
	}
	if overlay.markerCalls == 0 {
		t.Error("marker never painted after retry")
	}
}

func TestRouteAnimatorRouteIdentityChangeResets(t *testing.T) {
	sched := newManualScheduler()
	anim := NewRouteAnimator(sched, newStubSurface(), testRoute("r-1", time.Second))
	anim.SetPlaying(true)

	t0 := time.Unix(1000, 0)
	sched.Step(t0)
	sched.Step(t0.Add(300 * time.Millisecond))
	if anim.State() != StateRunning {
		t.Fatal("expected running before route swap")
	}

	anim.SetRoute(testRoute("r-2", time.Second))
	if anim.State() != StateIdle {
		t.Errorf("state after identity change = %s, want idle", anim.State())
	}

	// Same identity keeps state.
	anim.SetPlaying(true)
	sched.Step(t0.Add(time.Second))
	sched.Step(t0.Add(1300 * time.Millisecond))
	if anim.State() != StateRunning {
		t.Fatal("expected running")
	}
	anim.SetRoute(testRoute("r-2", time.Second))
	if anim.State() != StateRunning {
		t.Errorf("state after same-identity refresh = %s, want running", anim.State())
	}
}

func TestRouteAnimatorBearingClearsAtDestination(t *testing.T) {
	sched := newManualScheduler()
	anim := NewRouteAnimator(sched, newStubSurface(), testRoute("r-1", time.Second))
	anim.SetPlaying(true)

	t0 := time.Unix(1000, 0)
	sched.Step(t0)
	sched.Step(t0.Add(500 * time.Millisecond))
	if anim.Progress().BearingDeg == nil {
		t.Error("expected a bearing mid-route")
	}
}
