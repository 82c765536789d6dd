package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
	"github.com/antibyte/looplang/pkg/server"
	"github.com/antibyte/looplang/pkg/store"
	tlsmanager "github.com/antibyte/looplang/pkg/tls"
)

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", configuration.GetString("Server", "listen_address", ":8080"), "listen address")
	noStore := fs.Bool("no-store", false, "run without the script store")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var st *store.Store
	if !*noStore {
		var err error
		if st, err = store.OpenFromConfig(); err != nil {
			// sessions still work, only stored scripts and run history are lost
			logger.ServerWarn("Script store unavailable: %v", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	tlsManager, err := tlsmanager.NewTLSManager(tlsmanager.ConfigFromSettings())
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}

	handler := server.NewHandler(st)
	mux := http.NewServeMux()
	handler.Routes(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		TLSConfig:         tlsManager.GetTLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	servers := []*http.Server{srv}
	errorChan := make(chan error, 2)

	if tlsManager.NeedsHTTPServer() {
		plain := &http.Server{
			Addr:              tlsManager.RedirectAddress(),
			Handler:           tlsManager.GetHTTPHandler(*addr),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, plain)
		go func() {
			logger.Info(logger.AreaSecurity, "HTTP listener for redirects and ACME challenges on %s", plain.Addr)
			if err := plain.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errorChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	go func() {
		var err error
		if tlsManager.IsEnabled() {
			logger.ServerInfo("Serving HTTPS on %s", srv.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			logger.ServerInfo("Serving HTTP on %s", srv.Addr)
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errorChan <- fmt.Errorf("server error: %w", err)
		}
	}()
	fmt.Printf("%s %s listening on %s\n", appName, version, srv.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	select {
	case err := <-errorChan:
		logger.ServerError("%v", err)
		fmt.Fprintln(os.Stderr, red(err.Error()))
		code = 1
	case <-ctx.Done():
		logger.ServerInfo("Shutting down")
	}

	// websocket connections are hijacked, so Shutdown does not wait for them
	handler.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.ServerWarn("Shutdown of %s: %v", s.Addr, err)
		}
	}
	return code
}
