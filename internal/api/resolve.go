package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/wxgrid/nwxserve/internal/layout"
)

// resolveRun implements spec.md section 4.9's run-resolution policy: the
// literal "latest" resolves via the layout's LatestRun lookup (which
// already falls back to a directory scan per spec.md section 5); an
// explicit run must match YYYYMMDD_HHz, have a published directory, and
// have a manifest file, or the request 404s.
func (s *Server) resolveRun(modelID, requested string) (string, error) {
	if requested == "latest" {
		run, ok := s.Layout.LatestRun(modelID)
		if !ok {
			return "", errNotFound("no published runs for model %q", modelID)
		}
		return run, nil
	}
	if _, err := layout.ParseRunID(requested); err != nil {
		return "", errNotFound("run %q is not a valid run id", requested)
	}
	runs := s.Layout.PublishedRuns(modelID)
	for _, r := range runs {
		if r == requested {
			if _, err := os.Stat(layout.ManifestPath(s.Layout.DataRoot, modelID, r)); err != nil {
				return "", errNotFound("run %q has no manifest for model %q", requested, modelID)
			}
			return r, nil
		}
	}
	return "", errNotFound("run %q not published for model %q", requested, modelID)
}

// httpError carries the status code a handler should respond with,
// alongside a message safe to return to the client.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func errNotFound(format string, args ...interface{}) error {
	return &httpError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func errBadRequest(format string, args ...interface{}) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// writeError maps err to an HTTP response: an *httpError carries its own
// status; a wxerr-classified error maps by kind; anything else is a 500
// with an opaque body (spec.md section 7: errors outside the closed kind
// set classify as internal).
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if he, ok := err.(*httpError); ok {
		status = he.status
		msg = he.msg
	} else if status2, msg2, ok := classifyStatus(err); ok {
		status, msg = status2, msg2
	}
	http.Error(w, msg, status)
}
