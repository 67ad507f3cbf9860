package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeEmailExists        = 40002
	CodeUnauthorized       = 40100
	CodeInvalidCredentials = 40101
	CodeNotFound           = 40400
	CodeDocumentNotFound   = 40402
	CodePayloadTooLarge    = 41300
	CodeUnprocessable      = 42200
	CodeTooManyRequests    = 42900
	CodeInternalServer     = 50000
	CodeServiceUnavailable = 50300
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Abort writes the error and stops the handler chain.
func Abort(c *gin.Context, httpStatus, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort()
}
