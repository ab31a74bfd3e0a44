package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersOnIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Requests.WithLabelValues("direct", "generateContent", "200").Inc()
	m.CacheEntries.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{"geminimock_requests_total", "geminimock_cache_entries"} {
		if !found[name] {
			t.Fatalf("metric %s not gathered", name)
		}
	}

	// A second set on its own registry must not collide.
	_ = New(prometheus.NewRegistry())
}
