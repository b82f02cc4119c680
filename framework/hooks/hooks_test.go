package hooks

import "testing"

func TestRunHooksExecutesInReverseRegistrationOrder(t *testing.T) {
	var order []int
	AddHook(EventLogRotate, func() { order = append(order, 1) })
	AddHook(EventLogRotate, func() { order = append(order, 2) })
	AddHook(EventLogRotate, func() { order = append(order, 3) })

	RunHooks(EventLogRotate)

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunHooksWithNoneRegisteredIsNoOp(t *testing.T) {
	// Hooks registered by other tests in this package stay registered,
	// so use a fresh event value that nothing registers for and assert
	// only that running it doesn't panic.
	RunHooks(Event(99))
}
