package audit

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// MaxMessageLength bounds exception messages stored on a record
const MaxMessageLength = 500

const ellipsis = "..."

// TruncateMessage cuts msg to at most limit runes, ending with "..." when cut
func TruncateMessage(msg string, limit int) string {
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	keep := limit - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + ellipsis
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// exceptionPayload builds the data of an exception record
func exceptionPayload(err error, url string) map[string]any {
	data := map[string]any{
		"exceptionClass": fmt.Sprintf("%T", rootCause(err)),
		"url":            nil,
		"message":        err.Error(),
		"file":           nil,
		"line":           nil,
	}
	if url != "" {
		data["url"] = url
	}

	frames := deepestStack(err)
	if len(frames) == 0 {
		data["stackTrace"] = string(debug.Stack())
		return data
	}

	top := frames[0]
	if file := frameFile(top); file != "" {
		data["file"] = file
	}
	if line, convErr := strconv.Atoi(fmt.Sprintf("%d", top)); convErr == nil && line > 0 {
		data["line"] = line
	}
	data["stackTrace"] = strings.TrimPrefix(fmt.Sprintf("%+v", frames), "\n")
	return data
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return pkgerrors.Cause(err)
		}
		err = next
	}
}

// deepestStack returns the stack recorded closest to where err originated
func deepestStack(err error) pkgerrors.StackTrace {
	var frames pkgerrors.StackTrace
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			frames = st.StackTrace()
		}
	}
	return frames
}

// frameFile extracts the source path from a frame's "%+s" form: "func\n\tfile"
func frameFile(f pkgerrors.Frame) string {
	s := fmt.Sprintf("%+s", f)
	if i := strings.Index(s, "\n\t"); i >= 0 {
		return s[i+2:]
	}
	return ""
}
