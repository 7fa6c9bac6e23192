package books

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FaultRateLimit is the one fault code the retry layer may replay.
const FaultRateLimit = "RATE_LIMIT_EXCEEDED"

// FaultDetail is one entry of a fault envelope's detail list.
type FaultDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// APIFault is the books API error envelope. It travels unchanged from
// the HTTP boundary to the row result; callers read it, never rebuild
// it.
type APIFault struct {
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Details    []FaultDetail `json:"details,omitempty"`
	Raw        string        `json:"-"`
	StatusCode int           `json:"-"`
}

func (f *APIFault) Error() string {
	if f.Message != "" {
		return "books api: " + f.Message
	}
	if f.Code != "" {
		return "books api fault " + f.Code
	}
	if f.StatusCode != 0 {
		return fmt.Sprintf("books api status %d", f.StatusCode)
	}
	return ""
}

// IsRateLimit reports whether err carries the throttling fault code.
func IsRateLimit(err error) bool {
	var fault *APIFault
	return errors.As(err, &fault) && fault.Code == FaultRateLimit
}

// ExtractMessage reduces any processing error to a human-readable
// message. Fault envelopes are read field by field so the books
// system's own wording survives wherever it exists: message, then raw
// body, then the first detail entry, then the error text, then the
// serialized fault.
func ExtractMessage(err error) string {
	if err == nil {
		return ""
	}
	var fault *APIFault
	if errors.As(err, &fault) {
		if fault.Message != "" {
			return fault.Message
		}
		if fault.Raw != "" {
			return fault.Raw
		}
		if len(fault.Details) > 0 {
			if d := fault.Details[0]; d.Message != "" {
				return d.Message
			} else if d.Detail != "" {
				return d.Detail
			}
		}
		if s := fault.Error(); s != "" {
			return s
		}
		if b, jerr := json.Marshal(fault); jerr == nil {
			return string(b)
		}
	}
	return err.Error()
}

// faultEnvelope is the wire shape of books API errors.
type faultEnvelope struct {
	Fault struct {
		Code    string        `json:"code"`
		Message string        `json:"message"`
		Details []FaultDetail `json:"details"`
	} `json:"fault"`
}

func decodeFault(statusCode int, body []byte) *APIFault {
	fault := &APIFault{
		StatusCode: statusCode,
		Raw:        strings.TrimSpace(string(body)),
	}

	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		fault.Code = env.Fault.Code
		fault.Message = env.Fault.Message
		fault.Details = env.Fault.Details
	}

	if statusCode == http.StatusTooManyRequests && fault.Code == "" {
		fault.Code = FaultRateLimit
	}
	return fault
}
