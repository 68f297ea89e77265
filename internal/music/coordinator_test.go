package music

import "testing"

type fakePlayer struct {
	playing     bool
	pauseCalls  int
	resumeCalls int
	pauseErr    error
}

func (f *fakePlayer) Pause() error {
	f.pauseCalls++
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.playing = false
	return nil
}

func (f *fakePlayer) Resume() error {
	f.resumeCalls++
	f.playing = true
	return nil
}

func (f *fakePlayer) IsPlaying() bool { return f.playing }

func TestCoordinatorPausesOnceAcrossListeningAndSpeaking(t *testing.T) {
	p := &fakePlayer{playing: true}
	c := New(p, nil)

	c.OnEnterListening()
	c.OnEnterSpeaking()

	if p.pauseCalls != 1 {
		t.Errorf("pauseCalls = %d, want 1", p.pauseCalls)
	}
}

func TestCoordinatorResumesOnlyIfItPaused(t *testing.T) {
	p := &fakePlayer{playing: false}
	c := New(p, nil)

	// Never paused by us (already stopped) — idle must not resume it.
	c.OnEnterIdle()
	if p.resumeCalls != 0 {
		t.Errorf("resumeCalls = %d, want 0 when coordinator never paused", p.resumeCalls)
	}
}

func TestCoordinatorResumesAfterItPaused(t *testing.T) {
	p := &fakePlayer{playing: true}
	c := New(p, nil)

	c.OnEnterListening()
	if !c.pausedByUs {
		t.Fatal("expected pausedByUs after OnEnterListening")
	}

	c.OnEnterIdle()
	if p.resumeCalls != 1 {
		t.Errorf("resumeCalls = %d, want 1", p.resumeCalls)
	}
	if c.pausedByUs {
		t.Error("expected pausedByUs reset to false after resume")
	}
}

func TestCoordinatorDoesNotPauseWhenNotPlaying(t *testing.T) {
	p := &fakePlayer{playing: false}
	c := New(p, nil)

	c.OnEnterListening()
	if p.pauseCalls != 0 {
		t.Errorf("pauseCalls = %d, want 0 when not playing", p.pauseCalls)
	}
}
