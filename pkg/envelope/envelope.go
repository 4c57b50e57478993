package envelope

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Version is the wire version stamped on every API response.
const Version = "v1"

// Envelope wraps every API payload with the response version and a
// server-side timestamp.
type Envelope struct {
	Version string      `json:"version"`
	TS      string      `json:"ts"`
	Data    interface{} `json:"data"`
}

func New(data interface{}) Envelope {
	return Envelope{
		Version: Version,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	}
}

// JSON writes data wrapped in an Envelope with the given status code.
func JSON(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, New(data))
}

// OK writes data wrapped in an Envelope with status 200.
func OK(c echo.Context, data interface{}) error {
	return JSON(c, http.StatusOK, data)
}
