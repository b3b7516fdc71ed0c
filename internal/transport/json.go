package transport

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v to w as the response body. Callers are responsible
// for setting the status code and Content-Type beforehand.
func writeJSON(w http.ResponseWriter, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// respondJSON writes v as a 200 application/json response, the shape
// every admin handler in spec.md §6 uses on success.
func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSON(w, v)
}

// decodeJSON reads and unmarshals the request body into v, reporting
// false (and writing a 400 error frame) on malformed JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
