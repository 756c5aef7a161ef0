package app

import (
	"fmt"
	"os"
	"time"

	"horse.fit/linkwire/internal/httpapi"
	"horse.fit/linkwire/internal/logging"
)

func runServe(args []string) int {
	fs, flags := newCommandFlags("serve", 0)
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 5*time.Minute, "HTTP write timeout; batch runs answer synchronously")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if err := validatePort(*port, "--port"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	rt, err := openRuntime(flags.envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := commandContext(0)
	defer cancel()

	svc := rt.services
	srv := httpapi.NewServer(httpapi.Services{
		Store:         rt.pool,
		Ingest:        svc.ingest,
		Canonicalizer: rt.providers.canonicalizer,
		Enrichment:    svc.enrichment,
		Embeddings:    svc.embeddings,
		Clustering:    svc.clustering,
		Feeds:         svc.feeds,
		Velocity:      svc.velocity,
	}, logging.Component(rt.logger, "httpapi"), httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
