package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler registers routes on the server's echo instance.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// APIResponse is the envelope every endpoint replies with. Status mirrors
// the logical outcome; the transport status is 200 unless StatusResponse
// is used.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListDataResponse wraps a window of rows with the total available.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}

func envelope(code int, data interface{}) APIResponse {
	return APIResponse{Status: code, Message: http.StatusText(code), Data: data}
}

// DataResponse writes the envelope with logical status code over HTTP 200.
func DataResponse(c echo.Context, code int, data interface{}) error {
	return c.JSON(http.StatusOK, envelope(code, data))
}

// StatusResponse writes the envelope with code as the transport status too.
// Health checks such as /health need the real status.
func StatusResponse(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, envelope(code, data))
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return SuccessResponse(c, &ListDataResponse{Rows: rows, Total: total})
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// AppErrorResponse maps err to its AppError status, or 500 when err carries
// none.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}
