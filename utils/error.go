package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind is the machine-checkable classification carried by AppError.
type ErrorKind string

const (
	ErrorKindInvalidQuantity        ErrorKind = "InvalidQuantity"
	ErrorKindInsufficientStock      ErrorKind = "InsufficientStock"
	ErrorKindDataIntegrityViolation ErrorKind = "DataIntegrityViolation"
	ErrorKindNotFound               ErrorKind = "NotFound"
	ErrorKindConcurrencyConflict    ErrorKind = "ConcurrencyConflict"
)

// AppError is a terminal business-rule failure. The enclosing transaction is
// expected to roll back; nothing is compensated in code.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(kind ErrorKind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrorKindOf returns the kind of err when it is (or wraps) an AppError.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

func IsErrorKind(err error, kind ErrorKind) bool {
	k, ok := ErrorKindOf(err)
	return ok && k == kind
}

func ErrorInvalidQuantity(qty decimal.Decimal) *AppError {
	return NewAppError(ErrorKindInvalidQuantity, "quantity must be positive, got %s", qty.String())
}

func ErrorInsufficientStock(productId int, required decimal.Decimal, available decimal.Decimal) *AppError {
	return NewAppError(ErrorKindInsufficientStock,
		"insufficient stock for product_id=%d: required %s, available %s",
		productId, required.String(), available.String())
}

func ErrorNotFound(entity string, id int) *AppError {
	return NewAppError(ErrorKindNotFound, "%s not found: id=%d", entity, id)
}

// IsDuplicateEntry reports whether err is a MySQL unique-key violation
// (error 1062). Two transactions racing to create the same row see this
// instead of a lock conflict.
func IsDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
