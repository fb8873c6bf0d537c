package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"api host", "https://API.github.com/search/repositories?q=x", "api.github.com"},
		{"no scheme", "api.github.com/repos", "api.github.com"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeHost(tc.input))
		})
	}
}

func TestObserveAPIRequest(t *testing.T) {
	Init()
	Init()

	ObserveAPIRequest("search", 200, 20*time.Millisecond)
	ObserveAPIRequest("search", 0, time.Millisecond)
	ObserveAPIRetry("commits")
	ObservePacingDelay("api.github.com", 2*time.Second)

	require.InDelta(t, 1, testutil.ToFloat64(apiRequestsTotal.WithLabelValues("search", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(apiRequestsTotal.WithLabelValues("search", "error")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(apiRetriesTotal.WithLabelValues("commits")), 0)
	require.Positive(t, testutil.CollectAndCount(pacingDelaySeconds))
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://api.github.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
