package ptybridge

import "sync"

// bridgeEntry is one process-wide registration of an active bridge: the
// attach child's pid and the mux session name it bridges to. The master fd
// is not recorded here; only the owning Run call holds it. Mutated only by the bridge that owns a
// given session id for the duration of its Run call — single writer per id.
type bridgeEntry struct {
	pid     int
	muxName string
}

var registry = struct {
	mu sync.Mutex
	m  map[string]*bridgeEntry
}{m: make(map[string]*bridgeEntry)}

func registerBridge(sessionID string, pid int, muxName string) *bridgeEntry {
	entry := &bridgeEntry{pid: pid, muxName: muxName}
	registry.mu.Lock()
	registry.m[sessionID] = entry
	registry.mu.Unlock()
	return entry
}

func unregisterBridge(sessionID string, entry *bridgeEntry) {
	registry.mu.Lock()
	if registry.m[sessionID] == entry {
		delete(registry.m, sessionID)
	}
	registry.mu.Unlock()
}

// ActiveCount reports how many bridges are currently registered, used by
// internal/metrics to publish an active-bridges gauge.
func ActiveCount() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.m)
}
