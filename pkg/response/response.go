package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-vaults/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeRateLimited,
			Message: message,
		},
	})
}

// Vault error codes grouped by the HTTP status they map to
var (
	badRequestCodes = map[string]bool{
		"InvalidAmount":         true,
		"InvalidMint":           true,
		"InvalidTimeWindow":     true,
		"InvalidVariance":       true,
		"InvalidExecutionRange": true,
		"InvalidTriggerPrice":   true,
		"InvalidPriceRange":     true,
		"InvalidExpiryTime":     true,
		"InvalidSwapRoute":      true,
	}
	conflictCodes = map[string]bool{
		"VaultAlreadyExists": true,
	}
	internalCodes = map[string]bool{
		"MathOverflow":         true,
		"TokenAccountMismatch": true,
	}
)

// VaultErrorStatus returns the HTTP status for a vault error code. Anything not
// listed is a state rule the request broke and maps to 422.
func VaultErrorStatus(code string) int {
	switch {
	case code == "Unauthorized":
		return http.StatusForbidden
	case code == "InvalidKeeper":
		return http.StatusUnauthorized
	case badRequestCodes[code]:
		return http.StatusBadRequest
	case conflictCodes[code]:
		return http.StatusConflict
	case internalCodes[code]:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	var vaultErr *types.VaultError
	if errors.As(err, &vaultErr) {
		c.JSON(VaultErrorStatus(vaultErr.Code), Response{
			Success: false,
			Error: &Error{
				Code:    vaultErr.Code,
				Message: vaultErr.Message,
			},
		})
		return
	}

	// Default to internal server error
	InternalError(c, "An unexpected error occurred")
}
