package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")

	var err error = &SnapshotFailure{Table: "people", Position: 4, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("SnapshotFailure should unwrap to its cause")
	}

	err = &CommandFailure{Command: Command{Label: "trim name", Kind: KindColumnTransform}, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("CommandFailure should unwrap to its cause")
	}

	err = &ReplayFailure{Table: "people", LastGood: 1, Failed: 2, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("ReplayFailure should unwrap to its cause")
	}

	// Sentinels survive fmt wrapping.
	wrapped := fmt.Errorf("%w: people", ErrReplayInProgress)
	if !errors.Is(wrapped, ErrReplayInProgress) {
		t.Error("wrapped sentinel should match with errors.Is")
	}
}

func TestReplayFailure_Message(t *testing.T) {
	err := &ReplayFailure{Table: "people", LastGood: 1, Failed: 2, Err: errors.New("boom")}
	want := "replay of people failed at position 2 (last good 1): boom"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
