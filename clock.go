package qkeychain

import (
	"sync"
	"time"
)

var clockMu sync.RWMutex

// fakeNow, when set, is returned by timeNow.
var fakeNow *time.Time

// timeNow is the default Config.Now. Tests use setFakeTime to override it.
func timeNow() time.Time {
	clockMu.RLock()
	defer clockMu.RUnlock()
	if fakeNow != nil {
		return *fakeNow
	}
	return time.Now().UTC()
}

// setFakeTime pins timeNow to t. The returned func restores the real clock.
func setFakeTime(t time.Time) func() {
	clockMu.Lock()
	defer clockMu.Unlock()
	fakeNow = &t
	return func() {
		clockMu.Lock()
		defer clockMu.Unlock()
		fakeNow = nil
	}
}

// advanceFakeTime moves the pinned clock forward.
func advanceFakeTime(d time.Duration) {
	clockMu.Lock()
	defer clockMu.Unlock()
	if fakeNow == nil {
		panic("advanceFakeTime called without setFakeTime")
	}
	next := fakeNow.Add(d)
	fakeNow = &next
}
