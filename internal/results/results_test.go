package results

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newScoresServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/matches/explicit/result", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"match_id":"explicit","completed":true,"result":"3.5"}`))
	})
	mux.HandleFunc("/matches/scored/result", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"match_id":"scored","completed":true,
			"scores":[{"name":"Home","score":"2"},{"name":"Away","score":"1"}]}`))
	})
	mux.HandleFunc("/matches/live/result", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"match_id":"live","completed":false,"scores":[]}`))
	})
	mux.HandleFunc("/matches/empty/result", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"match_id":"empty","completed":true}`))
	})
	mux.HandleFunc("/matches/broken/result", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource_ExplicitResult(t *testing.T) {
	srv := newScoresServer(t)
	src := NewHTTPSource(srv.URL+"/", "secret", time.Second)

	v, ok, err := src.FinalResult(context.Background(), "explicit")
	if err != nil || !ok {
		t.Fatalf("expected completed result, got ok=%v err=%v", ok, err)
	}
	if !v.Equal(d(3.5)) {
		t.Errorf("expected 3.5, got %s", v)
	}
}

func TestHTTPSource_SumsScores(t *testing.T) {
	srv := newScoresServer(t)
	src := NewHTTPSource(srv.URL, "", time.Second)

	v, ok, err := src.FinalResult(context.Background(), "scored")
	if err != nil || !ok {
		t.Fatalf("expected completed result, got ok=%v err=%v", ok, err)
	}
	if !v.Equal(d(3)) {
		t.Errorf("expected 3, got %s", v)
	}
}

func TestHTTPSource_NotCompleted(t *testing.T) {
	srv := newScoresServer(t)
	src := NewHTTPSource(srv.URL, "", time.Second)

	_, ok, err := src.FinalResult(context.Background(), "live")
	if err != nil || ok {
		t.Errorf("expected incomplete without error, got ok=%v err=%v", ok, err)
	}
}

func TestHTTPSource_CompletedWithoutResult(t *testing.T) {
	srv := newScoresServer(t)
	src := NewHTTPSource(srv.URL, "", time.Second)

	v, ok, err := src.FinalResult(context.Background(), "empty")
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got ok=%v v=%s err=%v", ok, v, err)
	}
	if ok {
		t.Error("expected an empty payload not to count as completed")
	}
}

func TestHTTPSource_UnknownMatch(t *testing.T) {
	srv := newScoresServer(t)
	src := NewHTTPSource(srv.URL, "", time.Second)

	_, ok, err := src.FinalResult(context.Background(), "nope")
	if err != nil || ok {
		t.Errorf("expected 404 to mean not completed, got ok=%v err=%v", ok, err)
	}
}

func TestHTTPSource_ServerError(t *testing.T) {
	srv := newScoresServer(t)
	src := NewHTTPSource(srv.URL, "", time.Second)

	_, ok, err := src.FinalResult(context.Background(), "broken")
	if err == nil || ok {
		t.Errorf("expected error for 502, got ok=%v err=%v", ok, err)
	}
}

func TestRegistry_SetAndGet(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("m1"); !errors.Is(err, ErrNoResult) {
		t.Errorf("expected ErrNoResult, got %v", err)
	}

	r.Set("m1", d(42))
	v, ok, err := r.FinalResult(context.Background(), "m1")
	if err != nil || !ok || !v.Equal(d(42)) {
		t.Errorf("expected 42, got %s ok=%v err=%v", v, ok, err)
	}
}

type failingSource struct{}

func (failingSource) FinalResult(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, errors.New("down")
}

func TestChain_FirstCompletedWins(t *testing.T) {
	manual := NewRegistry()
	manual.Set("m1", d(7))

	chain := Chain{failingSource{}, manual}

	v, ok, err := chain.FinalResult(context.Background(), "m1")
	if err != nil || !ok || !v.Equal(d(7)) {
		t.Errorf("expected 7 from registry, got %s ok=%v err=%v", v, ok, err)
	}
}

func TestChain_ReportsErrorsWhenNoResult(t *testing.T) {
	chain := Chain{failingSource{}, NewRegistry()}

	_, ok, err := chain.FinalResult(context.Background(), "m1")
	if ok || err == nil {
		t.Errorf("expected error with no result, got ok=%v err=%v", ok, err)
	}
}
