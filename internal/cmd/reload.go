package cmd

import (
	"sort"
	"sync"

	"github.com/ratewatch/ratewatch/internal/core"
)

// seriesForgetter drops metric series for an API name.
type seriesForgetter interface {
	ForgetAPI(apiName string)
}

// registryTracker remembers which APIs were registered so series for APIs
// that disappear on reload stop being exported.
type registryTracker struct {
	mu     sync.Mutex
	known  map[string]string
	forget seriesForgetter
}

func newRegistryTracker(apis []core.MonitoredAPI, forget seriesForgetter) *registryTracker {
	t := &registryTracker{forget: forget}
	t.known = namesByKey(apis)
	return t
}

// Sync records the current registry and returns the names of removed APIs.
func (t *registryTracker) Sync(apis []core.MonitoredAPI) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := namesByKey(apis)
	var removed []string
	for key, name := range t.known {
		if current[key] != name {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	t.known = current

	if t.forget != nil {
		for _, name := range removed {
			t.forget.ForgetAPI(name)
		}
	}
	return removed
}

func namesByKey(apis []core.MonitoredAPI) map[string]string {
	out := make(map[string]string, len(apis))
	for _, api := range apis {
		out[api.Key()] = api.Name
	}
	return out
}
