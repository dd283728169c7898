package middleware

import (
	"mime"
	"net/http"
)

// MaxBodySize limits request bodies to jsonBytes, or to uploadBytes for
// multipart uploads
func MaxBodySize(jsonBytes, uploadBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := jsonBytes
			if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mediaType == "multipart/form-data" {
				limit = uploadBytes
			}
			if r.ContentLength > limit {
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
