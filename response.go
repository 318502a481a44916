package access

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Response is the envelope returned by every caller facing operation.
// Message is always safe to show to an end user.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK builds a successful envelope.
func OK(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}

// ResponseFromError converts err into a failed envelope. Errors without a
// text code are reported with a generic message.
func ResponseFromError(err error) Response {
	if err == nil {
		return Response{Success: true}
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil || rich.TextCode == "" {
		return Response{Message: MessageInternal, Code: TextCodeInternal}
	}

	res := Response{Message: rich.Message, Code: rich.TextCode}

	switch rich.TextCode {
	case TextCodeInternal, TextCodeNotSupported, TextCodeProfileMissing:
		res.Message = userMessageFor(rich.TextCode)
	case TextCodeValidation:
		if fields := rich.ValidationMap(); len(fields) > 0 {
			res.Data = map[string]any{"validation": fields}
		}
	}

	return res
}

// StatusCodeFromError derives the HTTP status for err.
func StatusCodeFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil && rich.Code >= 400 && rich.Code < 600 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func userMessageFor(code string) string {
	switch code {
	case TextCodeProfileMissing:
		return MessageProfileMissing
	default:
		return MessageInternal
	}
}
