package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Params holds list parameters extracted from a request.
type Params struct {
	Limit int
	Query string
}

// FromContext extracts list parameters from the echo context. The limit is
// clamped to [1, MaxLimit] with DefaultLimit used when absent or invalid.
func FromContext(c echo.Context) Params {
	return Params{
		Limit: LimitFromContext(c, DefaultLimit, MaxLimit),
		Query: c.QueryParam("q"),
	}
}

// LimitFromContext reads the "limit" query parameter clamped to [1, max].
func LimitFromContext(c echo.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = def
	}
	return Clamp(limit, 1, max)
}

// Clamp bounds value to [min, max].
func Clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
