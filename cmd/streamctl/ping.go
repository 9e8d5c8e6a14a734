// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	streaming "github.com/suraj5789/botbuilder-js/streaming"
)

var (
	pingPath    string
	pingCount   int
	pingTimeout time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping <target>",
	Short: "Connect to a server and time requests",
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

		for i := 0; i < pingCount; i++ {
			ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
			started := time.Now()
			resp, err := c.Send(ctx, streaming.NewStreamingRequest(http.MethodGet, pingPath))
			cancel()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %q %v\n", resp.StatusCode, resp.ReadBodyAsString(), time.Since(started))
		}
		return nil
	},
}

// newClient builds a Client from the "client" config section, with the
// first argument overriding the target.
func newClient(args []string) (*streaming.Client, error) {
	cfg, err := streaming.DecodeClientConfig(section("client"))
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Target = args[0]
	}
	if cfg.Target == "" {
		return nil, fmt.Errorf("missing target, such as tcp://127.0.0.1%s", streaming.DefaultListenAddr)
	}
	cfg.Transport.Logger = logger
	return streaming.NewClient(cfg)
}

func init() {
	pingCmd.Flags().StringVar(&pingPath, "path", "/ping", "request path")
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 1, "number of requests")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 5*time.Second, "per request timeout")
	rootCmd.AddCommand(pingCmd)
}
