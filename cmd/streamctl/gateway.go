// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	streaming "github.com/suraj5789/botbuilder-js/streaming"
)

var (
	gatewayListen   string
	gatewayTimeout  time.Duration
	gatewayPrintURL bool
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway <target>",
	Short: "Forward plain HTTP requests over a streaming connection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(args)
		if err != nil {
			return err
		}
		if err = c.Connect(cmd.Context()); err != nil {
			return err
		}
		defer c.Disconnect()

		ln, err := net.Listen("tcp", gatewayListen)
		if err != nil {
			return err
		}
		defer ln.Close()

		gw := streaming.NewGateway(c)
		gw.Timeout = gatewayTimeout
		gw.Logger = logger.Named("gateway")
		hs := &http.Server{
			Addr:    ln.Addr().String(),
			Handler: gw,
		}
		defer hs.Close()

		if gatewayPrintURL {
			fmt.Fprintf(cmd.OutOrStdout(), "http://%s/\n", ln.Addr().String())
		}
		go func() {
			<-c.Done()
			if err := c.Err(); err != nil {
				logger.Error("upstream connection lost", "error", err)
			}
			hs.Close()
		}()
		logger.Info("listening", "addr", ln.Addr().String(), "target", c.Target)
		if err = hs.Serve(ln); err != http.ErrServerClosed {
			return err
		}
		return c.Err()
	},
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayListen, "listen", "127.0.0.1:0", "the address the HTTP server should listen on")
	gatewayCmd.Flags().DurationVar(&gatewayTimeout, "timeout", 30*time.Second, "per request timeout")
	gatewayCmd.Flags().BoolVar(&gatewayPrintURL, "printurl", false, "print the listen URL on stdout")
	rootCmd.AddCommand(gatewayCmd)
}
