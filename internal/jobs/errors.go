package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// AdmissionDenied is returned when the gate refuses to launch a job. It is
// reported to the caller and never recorded as a run.
type AdmissionDenied struct {
	Job    string
	Reason string
}

func (e *AdmissionDenied) Error() string {
	return e.Reason
}

func deniedSelf(job string) *AdmissionDenied {
	return &AdmissionDenied{Job: job, Reason: "self already running"}
}

func deniedBlocked(job string, running []string) *AdmissionDenied {
	return &AdmissionDenied{
		Job: job,
		Reason: fmt.Sprintf("Job '%s' cannot run because the following job(s) are currently running: %s",
			job, strings.Join(running, ", ")),
	}
}

// IsAdmissionDenied reports whether err is an admission-gate rejection and
// returns it when so.
func IsAdmissionDenied(err error) (*AdmissionDenied, bool) {
	var denied *AdmissionDenied
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
