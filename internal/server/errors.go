package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eternalApril/rudis/internal/resp"
)

// Errors whose text starts with one of errorCodes are sent to the client as they are,
// any other error is prefixed with ERR
var (
	ErrUnknownCommand   = errors.New("ERR unknown command")
	ErrWrongArity       = errors.New("ERR wrong number of arguments")
	ErrNotAuthenticated = errors.New("NOAUTH Authentication required.")
	ErrDurability       = errors.New("MISCONF Errors writing to the AOF file")

	ErrSyntax       = errors.New("ERR syntax error")
	ErrNotInteger   = errors.New("ERR value is not an integer or out of range")
	ErrNotFloat     = errors.New("ERR value is not a valid float")
	ErrOverflow     = errors.New("ERR increment or decrement would overflow")
	ErrNoSuchKey    = errors.New("ERR no such key")
	ErrOutOfRange   = errors.New("ERR index out of range")
	ErrInvalidDB    = errors.New("ERR DB index is out of range")
	ErrSameObject   = errors.New("ERR source and destination objects are the same")
	ErrNoPassword   = errors.New("ERR Client sent AUTH, but no password is set")
	ErrWrongPass    = errors.New("WRONGPASS invalid username-password pair")
	ErrNotPositive  = errors.New("ERR value is out of range, must be positive")
	ErrSaveDisabled = errors.New("ERR snapshot persistence is disabled")

	errMinMaxNotFloat = errors.New("ERR min or max is not a float")
	errInvalidExpire  = errors.New("ERR invalid expire time")
	errNaNResult      = errors.New("ERR increment would produce NaN or Infinity")
	errNXAndXX        = errors.New("ERR XX and NX options at the same time are not compatible")

	ErrMultiNested      = errors.New("ERR MULTI calls can not be nested")
	ErrExecWithoutMulti = errors.New("ERR EXEC without MULTI")
	ErrDiscardNoMulti   = errors.New("ERR DISCARD without MULTI")
	ErrExecAbort        = errors.New("EXECABORT Transaction discarded because of previous errors.")
)

func unknownCommand(name string) error {
	return fmt.Errorf("%w '%s'", ErrUnknownCommand, name)
}

func wrongArity(name string) error {
	return fmt.Errorf("%w for '%s' command", ErrWrongArity, strings.ToLower(name))
}

func durability(err error) error {
	return fmt.Errorf("%w: %w", ErrDurability, err)
}

// errorReply converts a handler error into a RESP error
func errorReply(err error) resp.Value {
	msg := err.Error()
	if !hasErrorCode(msg) {
		msg = "ERR " + msg
	}
	return resp.MakeError(msg)
}

// errorCodes are the error prefixes a client may receive
var errorCodes = map[string]struct{}{
	"ERR":       {},
	"WRONGTYPE": {},
	"NOAUTH":    {},
	"WRONGPASS": {},
	"MISCONF":   {},
	"EXECABORT": {},
}

// hasErrorCode reports whether msg already starts with a known error code
func hasErrorCode(msg string) bool {
	code, _, _ := strings.Cut(msg, " ")
	_, ok := errorCodes[code]
	return ok
}
