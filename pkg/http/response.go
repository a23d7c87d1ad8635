package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError is one failed field of a request.
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{Status: status, Message: http.StatusText(status), Data: data})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse answers 400 with validation details.
func BadRequestResponse(c echo.Context, details interface{}) error {
	return DataResponse(c, http.StatusBadRequest, details)
}

// InternalServerErrorResponse answers 500 without exposing the cause.
func InternalServerErrorResponse(c echo.Context) error {
	return AppErrorResponse(c, InternalError("Something went wrong"))
}

// AppErrorResponse renders err as a one-element error list. Errors that are
// not AppErrors become 500.
func AppErrorResponse(c echo.Context, err error) error {
	ae := asAppError(err)
	return DataResponse(c, ae.Status, []*AppError{ae})
}
