package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze time via SetClock.
// Collectors use it to stamp fetch instants; tests inject a fake for
// deterministic identity keys.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used to stamp records. Pass nil to reset to
// real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Clock returns the active time source.
func Clock() clockwork.Clock { return clock }
