package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/chats/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/chats/{id}", "418"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chats/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status=%d", rec.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/chats/{id}", "418"))
	if after-before != 2 {
		t.Fatalf("counter delta=%v want 2", after-before)
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := RoutePattern(req); got != "unmatched" {
		t.Fatalf("RoutePattern=%q", got)
	}
}

func TestTrackSubscriber(t *testing.T) {
	before := testutil.ToFloat64(liveSubscribers)
	done := TrackSubscriber()
	if testutil.ToFloat64(liveSubscribers) != before+1 {
		t.Fatal("gauge not incremented")
	}
	done()
	if testutil.ToFloat64(liveSubscribers) != before {
		t.Fatal("gauge not restored")
	}
}
