package errors

import (
	stderrors "errors"
	"fmt"
)

// Process exit codes shared by every command.
const (
	ExitOK       = 0
	ExitFindings = 1
	ExitFailure  = 2
)

// ExitStatus is returned by commands that finished normally but must still
// signal a non-zero status, such as "drift detected".
type ExitStatus struct {
	Code   int
	Reason string
}

func (e *ExitStatus) Error() string {
	return fmt.Sprintf("%s (exit %d)", e.Reason, e.Code)
}

// Findings builds the status used when drift or violations were found.
func Findings(reason string) *ExitStatus {
	return &ExitStatus{Code: ExitFindings, Reason: reason}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var status *ExitStatus
	if stderrors.As(err, &status) {
		return status.Code
	}
	return ExitFailure
}

// Summary renders a single-line, user-facing description of err.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return err.Error()
	}
	loc := appErr.Location()
	where := ""
	switch {
	case loc.Host != "" && loc.Entity != "":
		where = fmt.Sprintf(" [host=%s entity=%s]", loc.Host, loc.Entity)
	case loc.Host != "":
		where = fmt.Sprintf(" [host=%s]", loc.Host)
	case loc.File != "" && loc.Line > 0:
		where = fmt.Sprintf(" [file=%s:%d]", loc.File, loc.Line)
	case loc.File != "":
		where = fmt.Sprintf(" [file=%s]", loc.File)
	case loc.Step != "":
		where = fmt.Sprintf(" [step=%s]", loc.Step)
	}
	return fmt.Sprintf("%s%s: %s", appErr.Code, where, appErr.Error())
}
