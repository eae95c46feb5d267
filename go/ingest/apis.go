package ingest

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterAPIs binds the uploader's HTTP routes against the router. The
// adapter converts net/http requests into gateway envelopes and writes
// envelope responses back verbatim; handlers never see net/http types.
func RegisterAPIs(router *mux.Router, api *API) {
	router.
		Path("/events").
		Methods("POST").
		HandlerFunc(adapt(api.PushEvents))
	router.
		Path("/signed-post").
		Methods("POST").
		HandlerFunc(adapt(api.SignedPost))
}

func adapt(handler func(context.Context, Request) Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		var headers = make(map[string]string, len(r.Header))
		for name := range r.Header {
			headers[name] = r.Header.Get(name)
		}

		var resp = handler(r.Context(), Request{
			Body:    string(body),
			Headers: headers,
		})
		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		io.WriteString(w, resp.Body)
	}
}
