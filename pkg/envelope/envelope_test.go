package envelope

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestNewStampsVersionAndTimestamp(t *testing.T) {
	env := New(map[string]int{"count": 3})
	if env.Version != "v1" {
		t.Fatalf("expected version v1, got %q", env.Version)
	}
	if _, err := time.Parse(time.RFC3339Nano, env.TS); err != nil {
		t.Fatalf("ts is not RFC3339: %v", err)
	}
}

func TestOKWrapsPayload(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := OK(c, map[string]string{"status": "ok"}); err != nil {
		t.Fatalf("OK returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got struct {
		Version string            `json:"version"`
		TS      string            `json:"ts"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Version != "v1" || got.Data["status"] != "ok" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}
