package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Response is the envelope of every API response.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// ErrorCode is the amansearch error code of a failed request.
	ErrorCode  string `json:"error_code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Data       any    `json:"data"`
}

// Success writes a 200 response carrying data.
func Success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: message, Data: data})
}

// Fail writes an error response with the given HTTP status.
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}

// FailErr writes err with the HTTP status of its amansearch code.
func FailErr(c *gin.Context, err error) {
	status := StatusFor(err)
	resp := Response{Code: status, Message: err.Error(), ErrorCode: amanerrors.GetCode(err)}
	if ae, ok := amanerrors.As(err); ok {
		resp.Message = ae.Message
		resp.Suggestion = ae.Suggestion
	}
	c.JSON(status, resp)
}

// StatusFor maps an error onto an HTTP status.
func StatusFor(err error) int {
	code := amanerrors.GetCode(err)
	switch code {
	case amanerrors.ErrCodeConfigNotFound:
		return http.StatusNotFound
	case amanerrors.ErrCodeUnsupportedFeature, amanerrors.ErrCodeNoFulltextFields:
		return http.StatusUnprocessableEntity
	case amanerrors.ErrCodeIndexDisabled, amanerrors.ErrCodeNoServer, amanerrors.ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	}
	switch amanerrors.GetCategory(err) {
	case amanerrors.CategoryValidation:
		return http.StatusBadRequest
	case amanerrors.CategoryConfig:
		return http.StatusConflict
	case amanerrors.CategoryNetwork:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
