package middleware

import (
	"net/http"
	"runtime/debug"

	"meshgate/internal/logs"
	"meshgate/internal/models"
)

// Recoverer catches handler panics, logs the stack and answers 500 in the
// protocol envelope so agents never see a half-written body.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqid := GetRequestID(r)
				logs.Logger.Errorf("panic: %v reqid=%s uri=%s method=%s\nstack:\n%s",
					rec, reqid, r.RequestURI, r.Method, string(debug.Stack()))
				models.WriteMeshError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
