package resumable

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 512

// ProtocolError is an unexpected response from the upload endpoint
type ProtocolError struct {
	Op         string
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("upload %s failed: HTTP %d", e.Op, e.StatusCode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func newProtocolError(op string, resp *http.Response, reason string) *ProtocolError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ProtocolError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		Reason:     reason,
	}
}
