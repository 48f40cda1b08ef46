package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"ghvault/internal/models"
)

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return jsonResponse(c, http.StatusOK, true, msg, obj)
}

func errorResponse(c echo.Context, code int, msg string) error {
	return jsonResponse(c, code, false, msg, nil)
}

func jsonResponse(c echo.Context, code int, status bool, msg string, obj interface{}) error {
	return c.JSON(code, models.APIResponse{
		Status: status,
		Msg:    msg,
		Obj:    obj,
	})
}

func paramID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
