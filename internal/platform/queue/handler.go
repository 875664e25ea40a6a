package queue

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatsHandler returns a handler exposing per-queue counters for operator
// visibility.
func StatsHandler(rt *Runtime) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := rt.Stats(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"queues": stats})
	}
}
