package client

import "testing"

func TestCounter_StrictIncrementAndReset(t *testing.T) {
	c := NewCounter(5)

	for i := 1; i <= 3; i++ {
		c.RecordTimeout()
		if got := c.Count(); got != i {
			t.Errorf("Count() = %d after %d timeouts", got, i)
		}
	}

	c.Reset()
	if got := c.Count(); got != 0 {
		t.Errorf("Count() = %d after Reset(), want 0", got)
	}
}

func TestCounter_CeilingTripsExactlyOnce(t *testing.T) {
	c := NewCounter(3)

	trips := 0
	for i := 0; i < 10; i++ {
		if c.RecordTimeout() {
			trips++
			if c.Count() != 3 {
				t.Errorf("tripped at count %d, want 3", c.Count())
			}
		}
	}
	if trips != 1 {
		t.Errorf("ceiling tripped %d times, want exactly once", trips)
	}
}

func TestCounter_ResetDoesNotRearmWithinRun(t *testing.T) {
	c := NewCounter(2)

	c.RecordTimeout()
	if c.RecordTimeout() != true {
		t.Fatal("ceiling did not trip")
	}

	c.Reset()
	c.RecordTimeout()
	if c.RecordTimeout() {
		t.Error("ceiling tripped a second time in the same run")
	}
}

func TestCounter_Disabled(t *testing.T) {
	c := NewCounter(0)
	for i := 0; i < 100; i++ {
		if c.RecordTimeout() {
			t.Fatal("disabled counter tripped")
		}
	}
}

func TestNew_ZeroCeilingStaysDisabled(t *testing.T) {
	// A zero ceiling means "no ceiling"; New must not replace it with
	// the DefaultConfig value the way it fills zero timeouts.
	c := New(Config{Command: "fmtserve"})
	for i := 0; i < 100; i++ {
		if c.failures.RecordTimeout() {
			t.Fatal("zero-ceiling client tripped the timeout ceiling")
		}
	}
}
