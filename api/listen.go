package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ttab/elephantine"
)

// ListenAndServe serves the handler until the context is cancelled. Cross
// origin requests are accepted from the given hosts and localhost.
func ListenAndServe(
	ctx context.Context, addr string, corsHosts []string, h http.Handler,
) error {
	var handler http.HandlerFunc = func(w http.ResponseWriter, r *http.Request) {
		ctx := elephantine.WithLogMetadata(r.Context())

		h.ServeHTTP(w, r.WithContext(ctx))
	}

	corsHandler := elephantine.CORSMiddleware(elephantine.CORSOptions{
		AllowInsecure:          false,
		AllowInsecureLocalhost: true,
		Hosts:                  append([]string{"localhost"}, corsHosts...),
		AllowedMethods:         []string{"GET", "POST"},
		AllowedHeaders:         []string{"Authorization", "Content-Type"},
	}, handler)

	server := http.Server{
		Addr:              addr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	//nolint:wrapcheck
	return elephantine.ListenAndServeContext(ctx, &server, 10*time.Second)
}
