package logger

import (
    "fmt"
    "net/http"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
    http.ResponseWriter
    status int
    bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
    n, err := r.ResponseWriter.Write(p)
    r.bytes += n
    return n, err
}

// Middleware logs one line per request and turns handler panics into 500s.
// A caller supplied X-Request-ID is kept, otherwise one is generated, and it
// is echoed on the response.
func Middleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        reqID := r.Header.Get(requestIDHeader)
        if reqID == "" { reqID = uuid.NewString() }
        w.Header().Set(requestIDHeader, reqID)
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

        defer func() {
            if p := recover(); p != nil {
                log.Error().Str("request_id", reqID).Str("path", r.URL.Path).Str("panic", fmt.Sprint(p)).Msg("handler panic recovered")
                http.Error(rec, "internal server error", http.StatusInternalServerError)
            }
            ev := log.Info()
            switch {
            case rec.status >= 500:
                ev = log.Error()
            case r.URL.Path == "/health" || r.URL.Path == "/metrics":
                ev = log.Debug()
            }
            ev.Str("request_id", reqID).
                Str("method", r.Method).
                Str("path", r.URL.Path).
                Int("status", rec.status).
                Int("bytes", rec.bytes).
                Dur("duration", time.Since(start)).
                Msg("http request")
        }()
        next.ServeHTTP(rec, r)
    })
}
