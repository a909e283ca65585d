package exchange

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Классы ошибок биржевых API. Transient-ошибки учитываются бюджетом ошибок
// опросных циклов и допускают повтор; остальные требуют вмешательства.
const (
	KindTransient       = "transient"
	KindAuth            = "auth"
	KindRateLimited     = "rate_limited"
	KindInsufficient    = "insufficient_funds"
	KindNotSupported    = "not_supported"
	KindInvalidArgument = "invalid_argument"
	KindUnknown         = "unknown"
)

// Error - ошибка от биржевого API с сохранением кода ответа
type Error struct {
	Venue   string
	Kind    string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Venue, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Venue, e.Message)
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, стоит ли повторять операцию.
// Сетевые ошибки вне *Error тоже считаются временными.
func IsTransient(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind == KindTransient || ee.Kind == KindRateLimited
	}
	return err != nil
}

// IsNotSupported сообщает, что операция недоступна на данной бирже
func IsNotSupported(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == KindNotSupported
}

// IsInsufficientFunds сообщает о нехватке средств на счёте
func IsInsufficientFunds(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == KindInsufficient
}

func transientErr(venue string, err error) *Error {
	return &Error{Venue: venue, Kind: KindTransient, Message: err.Error(), Err: err}
}
