package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_news/internal/models"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"
const desktopUA = "Mozilla/5.0 (X11; Linux x86_64) Firefox/140.0"

func mobileProfile() Profile {
	return Profile{UserAgent: iphoneUA}
}

func TestProbeConstrained(t *testing.T) {
	probe := NewProbe(0)

	cases := []struct {
		name    string
		profile Profile
		want    bool
	}{
		{"iphone", Profile{UserAgent: iphoneUA, ViewportWidth: 1200}, true},
		{"android", Profile{UserAgent: "Dalvik/2.1.0 (Linux; Android 14)"}, true},
		{"narrow desktop", Profile{UserAgent: desktopUA, ViewportWidth: 768}, true},
		{"wide desktop", Profile{UserAgent: desktopUA, ViewportWidth: 1440}, false},
		{"unknown width desktop", Profile{UserAgent: desktopUA}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := probe.Constrained(tc.profile); got != tc.want {
				t.Fatalf("Constrained = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolvePassthroughForUnconstrainedClients(t *testing.T) {
	l := New(nil, NewProbe(0), zerolog.Nop())

	handle, err := l.Resolve(context.Background(), "https://cdn.example.com/a.mp3", Profile{UserAgent: desktopUA, ViewportWidth: 1440})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if handle.Prefetched() {
		t.Fatal("passthrough handle must not carry bytes")
	}
	if handle.Ref != "https://cdn.example.com/a.mp3" {
		t.Fatalf("handle ref = %q", handle.Ref)
	}
	if l.Cache().Len() != 0 {
		t.Fatal("passthrough must not populate the cache")
	}
}

func TestResolvePrefetchesAndCachesForMobile(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	l := New(srv.Client(), NewProbe(0), zerolog.Nop())

	first, err := l.Resolve(context.Background(), srv.URL+"/a.mp3", mobileProfile())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !first.Prefetched() || string(first.Data) != "mp3-bytes" {
		t.Fatalf("prefetch handle = %+v", first)
	}

	second, err := l.Resolve(context.Background(), srv.URL+"/a.mp3", mobileProfile())
	if err != nil {
		t.Fatalf("resolve cached: %v", err)
	}
	if second != first {
		t.Fatal("second resolve must return the cached handle")
	}
	if hits.Load() != 1 {
		t.Fatalf("origin hit %d times, want 1", hits.Load())
	}
}

func TestResolveClassifiesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := New(srv.Client(), NewProbe(0), zerolog.Nop())

	_, err := l.Resolve(context.Background(), srv.URL+"/missing.mp3", mobileProfile())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if Classify(err) != models.ErrorNetworkFailure {
		t.Fatalf("classify = %v", Classify(err))
	}
	if l.Cache().Len() != 0 {
		t.Fatal("failed fetch must not populate the cache")
	}
}

func TestResolveCancellationIsSilent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	l := New(srv.Client(), NewProbe(0), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Resolve(ctx, srv.URL+"/slow.mp3", mobileProfile())
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if Classify(err) != models.ErrorNone {
		t.Fatalf("cancellation must not classify as a failure, got %v", Classify(err))
	}
	if l.Cache().Len() != 0 {
		t.Fatal("cancelled fetch must not populate the cache")
	}
}

func TestBlobCacheInsertOnly(t *testing.T) {
	cache := NewBlobCache()
	first := &Handle{Ref: "a", Data: []byte("one")}
	cache.Put("a", first)
	cache.Put("a", &Handle{Ref: "a", Data: []byte("two")})

	got, ok := cache.Get("a")
	if !ok || got != first {
		t.Fatal("cache entries must never be replaced within a session")
	}
}
