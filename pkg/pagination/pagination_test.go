package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(t *testing.T, target string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContextDefaults(t *testing.T) {
	p := FromContext(newContext(t, "/cases"))
	if p.Limit != DefaultLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Query != "" {
		t.Fatalf("expected empty query, got %q", p.Query)
	}
}

func TestFromContextParsesQuery(t *testing.T) {
	p := FromContext(newContext(t, "/cases?q=cirrhosis&limit=25"))
	if p.Limit != 25 {
		t.Fatalf("expected limit 25, got %d", p.Limit)
	}
	if p.Query != "cirrhosis" {
		t.Fatalf("expected query cirrhosis, got %q", p.Query)
	}
}

func TestLimitFromContextClamps(t *testing.T) {
	cases := []struct {
		target string
		max    int
		want   int
	}{
		{"/jobs?limit=0", 300, 50},
		{"/jobs?limit=-5", 300, 50},
		{"/jobs?limit=9999", 300, 300},
		{"/jobs?limit=12", 300, 12},
		{"/jobs?limit=abc", 300, 50},
	}
	for _, tc := range cases {
		got := LimitFromContext(newContext(t, tc.target), 50, tc.max)
		if got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.target, tc.want, got)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0, 1, 500) != 1 {
		t.Fatal("expected lower bound")
	}
	if Clamp(501, 1, 500) != 500 {
		t.Fatal("expected upper bound")
	}
	if Clamp(42, 1, 500) != 42 {
		t.Fatal("expected passthrough")
	}
}
