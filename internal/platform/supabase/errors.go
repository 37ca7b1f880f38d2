package supabase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/catnip/internal/apperr"
)

// The SDKs flatten HTTP failures into strings; these recover the parts.
var (
	gotrueErrRe = regexp.MustCompile(`(?s)^response status code (\d{3})(?:: (.*))?$`)
	restErrRe   = regexp.MustCompile(`(?s)^\(([^)]*)\) (.*)$`)
)

// gotrueBody covers the error shapes GoTrue has used across versions.
type gotrueBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
}

func authError(op string, err error) error {
	m := gotrueErrRe.FindStringSubmatch(strings.TrimSpace(err.Error()))
	if m == nil {
		return fmt.Errorf("supabase: %s: %w", op, err)
	}
	status, _ := strconv.Atoi(m[1])
	pe := &apperr.PlatformError{Op: op, Status: status, Message: http.StatusText(status)}

	var body gotrueBody
	if m[2] != "" && json.Unmarshal([]byte(m[2]), &body) == nil {
		pe.Code = body.ErrorCode
		if pe.Code == "" {
			pe.Code = body.Error
		}
		for _, msg := range []string{body.Msg, body.ErrorDescription, body.Message, body.Error} {
			if msg != "" {
				pe.Message = msg
				break
			}
		}
	} else if m[2] != "" {
		pe.Message = m[2]
	}
	if status == http.StatusNotFound {
		pe.Err = apperr.ErrNotFound
	}
	return pe
}

func restError(op string, err error) error {
	m := restErrRe.FindStringSubmatch(strings.TrimSpace(err.Error()))
	if m == nil {
		return fmt.Errorf("supabase: %s: %w", op, err)
	}
	pe := &apperr.PlatformError{Op: op, Code: m[1], Message: m[2], Status: http.StatusBadRequest}
	switch {
	case m[1] == "PGRST116":
		pe.Status = http.StatusNotAcceptable
		pe.Err = apperr.ErrNotFound
	case m[1] == "42501":
		pe.Status = http.StatusForbidden
	case strings.HasPrefix(m[1], "PGRST3"):
		pe.Status = http.StatusUnauthorized
	}
	return pe
}
