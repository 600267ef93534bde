package common

import (
	"net/http"

	"github.com/MixinNetwork/mixin/logger"
)

func RenderOK(w http.ResponseWriter, r *http.Request, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["status"] = "ok"
	RenderJSON(w, r, http.StatusOK, data)
}

// RenderMessage writes the error envelope. The message is shown to clients
// as is, so it must never carry key material or wallet tool output.
func RenderMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	RenderJSON(w, r, status, map[string]any{"status": "error", "message": message})
}

func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Verbosef("ERROR (%v) => %v", *r, err)
	RenderMessage(w, r, http.StatusInternalServerError, "internal server error")
}

func RenderJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	b := MarshalJSONOrPanic(data)
	size, err := w.Write(b)
	logger.Verbosef("ServeHTTP(%s %s) => %d %s %d %v", r.Method, r.URL.Path, status, string(b), size, err)
}

func HandlePanic(w http.ResponseWriter, r *http.Request, rcv any) {
	logger.Printf("PANIC (%s %s) => %v", r.Method, r.URL.Path, rcv)
	RenderMessage(w, r, http.StatusInternalServerError, "internal server error")
}

func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	RenderMessage(w, r, http.StatusNotFound, "not found")
}

func HandleCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Access-Control-Allow-Headers", "Content-Type,X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "OPTIONS,GET,POST")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == "OPTIONS" {
			RenderJSON(w, r, http.StatusOK, map[string]any{})
		} else {
			handler.ServeHTTP(w, r)
		}
	})
}
