// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Mapping pairs a sentinel error with the HTTP status it should produce.
type Mapping struct {
	Err    error
	Status int
}

// RespondError renders err as an RFC7807 problem. Mappings are checked in
// order with errors.Is; anything unmatched becomes a 500 with the detail
// suppressed so collaborator internals never leak to callers.
func RespondError(w http.ResponseWriter, err error, mappings ...Mapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			Problem(w, m.Status, http.StatusText(m.Status), err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
