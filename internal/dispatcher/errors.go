// errors.go — Mapping from façade/storage errors to wire error frames.
package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucentgraph/lucent/internal/security"
	"github.com/lucentgraph/lucent/internal/session"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/wire"
)

// NotSupportedClassName is the exception class name written for an
// unrecognized opcode, matching the end-to-end scenario in §8.
const NotSupportedClassName = "com.lucentgraph.CommandNotSupportedException"

// TimeoutClassName is written when a handler exceeds its clamped
// command timeout.
const TimeoutClassName = "com.lucentgraph.CommandExecutionTimeoutException"

// commandTimeoutError reports an opcode that ran past its clamped
// command timeout.
type commandTimeoutError struct {
	opcode  Opcode
	timeout time.Duration
}

func (e *commandTimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded command timeout of %s", e.opcode, e.timeout)
}

// frameFor translates err into the (class name, message) chain written
// on the wire. Unrecognized error types fall back to a generic internal
// database error, wrapping the original message for diagnostics without
// leaking a Go-specific type name to the client.
func frameFor(err error) []wire.FrameError {
	var timedOut *commandTimeoutError
	if errors.As(err, &timedOut) {
		return []wire.FrameError{{
			ClassName: TimeoutClassName,
			Message:   err.Error(),
		}}
	}

	var versionConflict *storage.VersionConflictError
	if errors.As(err, &versionConflict) {
		return []wire.FrameError{{
			ClassName: "com.lucentgraph.ConcurrentModificationException",
			Message:   err.Error(),
		}}
	}

	var notFound *storage.NotFoundError
	if errors.As(err, &notFound) {
		return []wire.FrameError{{
			ClassName: "com.lucentgraph.RecordNotFoundException",
			Message:   err.Error(),
		}}
	}

	var denied *security.AccessDeniedError
	if errors.As(err, &denied) {
		return []wire.FrameError{{
			ClassName: "com.lucentgraph.SecurityAccessException",
			Message:   err.Error(),
		}}
	}

	var unknownSession *session.UnknownSessionError
	if errors.As(err, &unknownSession) {
		return []wire.FrameError{{
			ClassName: "com.lucentgraph.UnknownSessionException",
			Message:   err.Error(),
		}}
	}

	return []wire.FrameError{{
		ClassName: "com.lucentgraph.DatabaseException",
		Message:   err.Error(),
	}}
}

// errorClass returns the class name frameFor would write for err, used
// as the request_errors_total metric's low-cardinality "class" label.
func errorClass(err error) string {
	chain := frameFor(err)
	if len(chain) == 0 {
		return "unknown"
	}
	return chain[0].ClassName
}
