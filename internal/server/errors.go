package server

import (
	"net/http"

	apperrors "github.com/parklens/parklens/internal/errors"
)

// HandleError is the single place HTTP errors are rendered.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	HandleError(w, r, apperrors.NewRateLimitedError("Too many requests, please try again later"))
}
