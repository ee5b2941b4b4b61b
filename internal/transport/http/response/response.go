package response

import "github.com/gin-gonic/gin"

const (
	CodeOK               = 0
	CodeBadRequest       = 40000
	CodeEmptyNarrative   = 40001
	CodeNothingToCommit  = 40002
	CodeUnauthorized     = 40100
	CodeSessionNotFound  = 40401
	CodeEvidenceNotFound = 40402
	CodeBlobNotFound     = 40403
	CodeInvalidState     = 40901
	CodeStaleResult      = 40902
	CodePayloadTooLarge  = 41300
	CodeQuotaExceeded    = 42900
	CodeInternalServer   = 50000
	CodeAnalysisFailed   = 50201
	CodeUploadFailed     = 50202
	CodeSaveFailed       = 50001
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
