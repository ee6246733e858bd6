package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/arfor-backend/internal/platform/apierr"
)

type APIError struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON flattens Extra next to message and code.
func (e APIError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+2)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["message"] = e.Message
	if e.Code != "" {
		out["code"] = e.Code
	}
	return json.Marshal(out)
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError maps err onto the envelope. Anything that is not an
// *apierr.Error is a 500 and its message is not exposed.
func RespondAPIError(c *gin.Context, err error) {
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae == nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "internal", errors.New("Internal server error"))
		return
	}
	status := ae.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	msg := ae.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal server error"
	}
	if v, ok := ae.Extra["retry_after"].(int); ok && v > 0 {
		c.Header("Retry-After", strconv.Itoa(v))
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: ae.Code, Extra: ae.Extra}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
