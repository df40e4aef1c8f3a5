package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.10.0", "1.9.0", true},
		{"1.1.0", "1.1.0", false},
		{"1.0.0", "1.1.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestVersionCheck(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			assert.Equal(t, `"abc"`, r.Header.Get("If-None-Match"))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.1.0","draft":false,"prerelease":false}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	require.True(t, vc.check())
	assert.Equal(t, "9.1.0", vc.Info().Latest)

	require.True(t, vc.check())
	assert.Equal(t, "9.1.0", vc.Info().Latest)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVersionCheckSkipsPrerelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.2.0-rc1","prerelease":true}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	assert.True(t, vc.check())
	assert.Empty(t, vc.Info().Latest)
	assert.False(t, vc.Info().UpdateAvail)
}

func TestVersionCheckRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	assert.False(t, vc.check())
	vc.Stop()
	vc.Stop()
}
