package handlers

import (
	"io"
	"maps"
	"net/http"
	"net/http/pprof"
	runtimepprof "runtime/pprof"

	"github.com/rs/zerolog/hlog"
)

func NotImplemented(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
	if _, err := w.Write([]byte("Not implemented")); err != nil {
		hlog.FromRequest(r).Panic().Err(err).Msg("Error sending response to client")
	}
}

// RegisterProfilingHandlers exposes the runtime profiles under prefix, which
// must end with a slash.
func RegisterProfilingHandlers(handler *http.ServeMux, prefix string) {
	handler.HandleFunc("GET "+prefix, pprof.Index)
	handler.HandleFunc("GET "+prefix+"cmdline", pprof.Cmdline)
	handler.HandleFunc("GET "+prefix+"profile", pprof.Profile)
	handler.HandleFunc(prefix+"symbol", pprof.Symbol)
	handler.HandleFunc("GET "+prefix+"trace", pprof.Trace)

	// pprof.Index only resolves named profiles under /debug/pprof/
	for _, profile := range runtimepprof.Profiles() {
		handler.Handle("GET "+prefix+profile.Name(), pprof.Handler(profile.Name()))
	}
}

// WriteResponse sends resp back to the client and closes its body.
func WriteResponse(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Error closing the body of the response")
		}
	}()

	maps.Copy(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Error sending response to client")
	}
}
