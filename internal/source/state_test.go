package source

import "testing"

func TestState_Transition_Valid(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{Idle, Snapshotting},
		{Idle, Streaming},
		{Snapshotting, Snapshotted},
		{Snapshotted, Streaming},
		{Snapshotted, Closed},
		{Streaming, Closed},
	}
	for _, c := range cases {
		got, err := c.from.Transition(c.to)
		if err != nil {
			t.Errorf("%s -> %s: unexpected error %v", c.from, c.to, err)
		}
		if got != c.to {
			t.Errorf("%s -> %s: got %s", c.from, c.to, got)
		}
	}
}

func TestState_Transition_Invalid(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{Idle, Closed},
		{Idle, Snapshotted},
		{Snapshotting, Streaming},
		{Snapshotting, Closed},
		{Streaming, Snapshotting},
		{Closed, Streaming},
	}
	for _, c := range cases {
		_, err := c.from.Transition(c.to)
		if err == nil {
			t.Errorf("%s -> %s: expected error, got nil", c.from, c.to)
		}
	}
}

func TestState_String(t *testing.T) {
	if Idle.String() != "Idle" || Closed.String() != "Closed" {
		t.Fatal("unexpected state stringer output")
	}
}
