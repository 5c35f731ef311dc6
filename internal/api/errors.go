package api

import (
	"net/http"

	"github.com/wxgrid/nwxserve/internal/wxerr"
)

// classifyStatus maps a wxerr-classified error to an HTTP status and safe
// message (spec.md section 7: "UnknownModel/UnknownVariable/UnknownCoverage
// ... surfaced as 404 at the API"). ok is false for errors outside the
// closed kind set, which callers treat as an opaque 500.
func classifyStatus(err error) (status int, msg string, ok bool) {
	switch wxerr.Classify(err) {
	case wxerr.KindUnknownModel:
		return http.StatusNotFound, "unknown model", true
	case wxerr.KindUnknownVariable:
		return http.StatusNotFound, "unknown variable", true
	case wxerr.KindUnknownCoverage:
		return http.StatusNotFound, "unknown coverage", true
	case wxerr.KindInvalidRunID:
		return http.StatusNotFound, "invalid run id", true
	case wxerr.KindRateLimited:
		return http.StatusTooManyRequests, "rate limited", true
	default:
		return 0, "", false
	}
}
