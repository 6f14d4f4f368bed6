package mpd

import (
	"context"
	"errors"
	"testing"

	"github.com/fhs/gompd/v2/mpd"
)

type fakeStatus struct {
	attrs mpd.Attrs
	err   error
}

func (f *fakeStatus) Status() (mpd.Attrs, error) {
	return f.attrs, f.err
}

func TestOutput_HandlePlayerEvent(t *testing.T) {
	tests := []struct {
		name      string
		expected  string
		state     string
		err       error
		wantEnded bool
	}{
		{"playing then stopped is an end", statePlay, stateStop, nil, true},
		{"still playing", statePlay, statePlay, nil, false},
		{"we paused", statePause, statePause, nil, false},
		{"we stopped", stateStop, stateStop, nil, false},
		{"status error", statePlay, "", errors.New("gone"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOutput(NewClient("localhost", 16600, ""))
			o.status = &fakeStatus{attrs: mpd.Attrs{"state": tt.state}, err: tt.err}
			o.expected = tt.expected

			o.handlePlayerEvent()

			select {
			case <-o.Ended():
				if !tt.wantEnded {
					t.Error("unexpected end event")
				}
			default:
				if tt.wantEnded {
					t.Error("expected an end event")
				}
			}
		})
	}
}

func TestOutput_EndFiresOnce(t *testing.T) {
	o := NewOutput(NewClient("localhost", 16600, ""))
	o.status = &fakeStatus{attrs: mpd.Attrs{"state": stateStop}}
	o.expected = statePlay

	o.handlePlayerEvent()
	o.handlePlayerEvent()

	<-o.Ended()
	select {
	case <-o.Ended():
		t.Error("a single stop should produce a single end event")
	default:
	}
}

func TestOutput_FailedPlayResetsExpectation(t *testing.T) {
	o := NewOutput(NewClient("localhost", 16600, ""))

	if err := o.Play(context.Background(), "http://example.com/a.mp3"); err == nil {
		t.Fatal("expected play to fail without a server")
	}
	if o.expected != stateStop {
		t.Errorf("expected stop expectation after failure, got %q", o.expected)
	}
}
