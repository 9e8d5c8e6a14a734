// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package main

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	streaming "github.com/suraj5789/botbuilder-js/streaming"
)

var (
	serveAddr     string
	serveHTTPAddr string
	serveUpstream string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept streaming connections and answer requests",
	Long: `Accepts native TCP connections on --addr and, if --http is set, WebSocket
upgrades on that address. Requests are forwarded to --upstream if given,
otherwise a built in handler answers GET /ping and echoes POST /echo.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := streaming.DecodeHostConfig(section("host"))
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") || cfg.Addr == "" {
			cfg.Addr = serveAddr
		}
		cfg.Transport.Logger = logger

		var handler streaming.RequestHandler
		if serveUpstream != "" {
			u, err := url.Parse(serveUpstream)
			if err != nil {
				return errors.Wrap(err, "invalid upstream")
			}
			rp := streaming.NewReverseProxy(u, cfg.MaxServers)
			rp.Logger = logger.Named("proxy")
			handler = rp
		} else {
			handler = streaming.HTTPHandler(builtinMux())
		}

		host := streaming.NewHost(cfg, handler)
		ln, err := host.Listen(cfg.Addr)
		if err != nil {
			return err
		}
		logger.Info("listening", "addr", host.Addr)

		var hs *http.Server
		errCh := make(chan error, 2)
		if serveHTTPAddr != "" {
			hs = &http.Server{Addr: serveHTTPAddr, Handler: host}
			go func() { errCh <- hs.ListenAndServe() }()
			logger.Info("accepting websockets", "addr", serveHTTPAddr)
		}
		go func() { errCh <- host.Serve(ln) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
		case err = <-errCh:
			logger.Error("serve failed", "error", err)
		}

		var result error
		if err != nil && err != http.ErrServerClosed && err != streaming.ErrHostClosed {
			result = multierror.Append(result, err)
		}
		if hs != nil {
			if closeErr := hs.Close(); closeErr != nil {
				result = multierror.Append(result, closeErr)
			}
		}
		if closeErr := host.Close(); closeErr != nil {
			result = multierror.Append(result, closeErr)
		}
		logger.Info("served", "bytes_read", host.BytesRead(), "bytes_written", host.BytesWritten(), "errors", host.ServeErrors())
		return result
	},
}

func builtinMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "pong")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		io.Copy(w, r.Body)
	})
	return mux
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", streaming.DefaultListenAddr, "TCP address for native connections")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP address for WebSocket connections")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "upstream HTTP server URL to forward requests to")
	rootCmd.AddCommand(serveCmd)
}
