package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeComplianceBlocked ErrorCode = "COMPLIANCE_BLOCKED"
	ErrCodeGatewayTransient  ErrorCode = "GATEWAY_TRANSIENT"
	ErrCodeGatewayRejected   ErrorCode = "GATEWAY_REJECTED"
	ErrCodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	ErrCodeIntegrity         ErrorCode = "INTEGRITY_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	// Reference идентифицирует обращение для разбора конфликтов и нарушений целостности.
	Reference string
	Cause     error
}

func (e *AppError) Error() string {
	ref := ""
	if e.Reference != "" {
		ref = " [" + e.Reference + "]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s%s (caused by: %v)", e.Code, e.Message, ref, e.Cause)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, e.Message, ref)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Validation, Forbidden и остальные конструкторы повторяют таксономию ошибок сделки.
func Validation(message string) *AppError { return New(ErrCodeValidation, message) }

func Forbidden(message string) *AppError { return New(ErrCodeForbidden, message) }

func NotFound(message string) *AppError { return New(ErrCodeNotFound, message) }

func ComplianceBlocked(message string) *AppError { return New(ErrCodeComplianceBlocked, message) }

// Conflict создаёт ошибку конфликта состояния со ссылкой на сущность.
func Conflict(message, entity string, id uuid.UUID) *AppError {
	e := New(ErrCodeConflict, message)
	e.Reference = NewReference(entity, id)
	return e
}

// Integrity создаёт ошибку нарушения инварианта журнала. Такие ошибки всегда фатальны для операции.
func Integrity(message, entity string, id uuid.UUID) *AppError {
	e := New(ErrCodeIntegrity, message)
	e.Reference = NewReference(entity, id)
	return e
}

// NewReference формирует ссылку вида "projects:<id>#case-xxxxxxxx".
func NewReference(entity string, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s#case-%s", entity, id, uuid.NewString()[:8])
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeComplianceBlocked:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeGatewayTransient:
		return http.StatusServiceUnavailable
	case ErrCodeGatewayRejected:
		return http.StatusPaymentRequired
	case ErrCodeGatewayAuth:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку для ошибок вне таксономии.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool { return is(err, ErrCodeNotFound) }

func IsForbidden(err error) bool { return is(err, ErrCodeForbidden) }

func IsValidation(err error) bool { return is(err, ErrCodeValidation) }

func IsConflict(err error) bool { return is(err, ErrCodeConflict) }

func IsComplianceBlocked(err error) bool { return is(err, ErrCodeComplianceBlocked) }

func IsGatewayTransient(err error) bool { return is(err, ErrCodeGatewayTransient) }

func IsGatewayRejected(err error) bool { return is(err, ErrCodeGatewayRejected) }

func IsGatewayAuth(err error) bool { return is(err, ErrCodeGatewayAuth) }

func IsIntegrity(err error) bool { return is(err, ErrCodeIntegrity) }

var (
	ErrBidNotFound      = New(ErrCodeNotFound, "ставка не найдена")
	ErrJobNotFound      = New(ErrCodeNotFound, "работа не найдена")
	ErrProjectNotFound  = New(ErrCodeNotFound, "проект не найден")
	ErrContractNotFound = New(ErrCodeNotFound, "контракт не найден")
	ErrDepositNotFound  = New(ErrCodeNotFound, "депозит не найден")
	ErrUnauthorized     = New(ErrCodeUnauthorized, "требуется авторизация")
)
