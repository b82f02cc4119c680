package supervisor

import "testing"

func TestRestartTrackerAllowsUpToBudget(t *testing.T) {
	tr := newRestartTracker()
	for i := 0; i < restartBudget; i++ {
		if !tr.allow() {
			t.Fatalf("allow() = false on failure %d, want true (within budget %d)", i+1, restartBudget)
		}
	}
}

func TestRestartTrackerAbandonsAfterBudgetExceeded(t *testing.T) {
	tr := newRestartTracker()
	for i := 0; i < restartBudget; i++ {
		tr.allow()
	}
	if tr.allow() {
		t.Fatalf("allow() = true on failure %d, want false (exceeds budget %d within the window)", restartBudget+1, restartBudget)
	}
}

func TestRestartTrackerPrunesOldFailuresOutsideWindow(t *testing.T) {
	tr := newRestartTracker()
	for i := 0; i < restartBudget; i++ {
		tr.allow()
	}
	// Simulate every recorded failure having aged out of the window, the
	// same way allow() itself prunes by comparing against now-window.
	for i := range tr.fails {
		tr.fails[i] = tr.fails[i].Add(-restartWindow - 1)
	}
	if !tr.allow() {
		t.Fatal("allow() = false after all prior failures aged out of the window, want true")
	}
}
