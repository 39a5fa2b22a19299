package response

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteResponse serializes v as the JSON body of a 200 reply
func WriteResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// WriteError replies with {"error": message} and the given status code
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{
		Error: message,
	})
}

// WriteReceived acknowledges a webhook delivery so the provider stops retrying
func WriteReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Received bool `json:"received"`
	}{
		Received: true,
	})
}

// WriteSignatureError rejects an unverifiable webhook delivery. Plain text on
// purpose: the provider's dashboard shows the body verbatim.
func WriteSignatureError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Webhook Error: %s", err.Error())
}
