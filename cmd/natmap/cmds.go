package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	nattraversal "github.com/go-i2p/go-nat-gateway"
)

// envRouteSource overrides the default of --source.
const envRouteSource = "NATGW_ROUTE_SOURCE"

type rootOptions struct {
	source  string
	verbose bool
}

// CmdRoot builds the natmap command tree.
func CmdRoot() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "natmap",
		Short:        "Discover default gateways and open ports on them",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(opts.verbose)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.source, "source", os.Getenv(envRouteSource),
		"route source: auto, command, procfs, netlink or rib (env "+envRouteSource+")")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(CmdGateways(opts))
	cmd.AddCommand(CmdMap(opts))
	return cmd
}

// CmdGateways prints the discovered (local, gateway) pairs.
func CmdGateways(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "List local address / gateway pairs of active interfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := discover(cmd.Context(), root)
			if err != nil {
				return err
			}
			for _, p := range pairs {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

type mapOptions struct {
	port     int
	protocol string
	method   string
	lifetime time.Duration
}

// CmdMap opens a port on the gateway and keeps it open until "close".
func CmdMap(root *rootOptions) *cobra.Command {
	opts := &mapOptions{}
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Open a port on the gateway and keep it alive interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := nattraversal.ParseMethod(opts.method)
			if err != nil {
				return err
			}
			source, err := nattraversal.ParseRouteSource(root.source)
			if err != nil {
				return err
			}
			// Gateway-less hosts are reported before any protocol discovery runs.
			if _, err := discover(cmd.Context(), root); err != nil {
				return err
			}

			sess := newSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			port := opts.port
			if port == 0 {
				if port, err = sess.readPort(); err != nil {
					return err
				}
			}

			mapper, err := nattraversal.NewPortMapperWithMethod(cmd.Context(), method,
				nattraversal.WithRouteSource(source))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Drilling the hole...")
			externalPort, err := mapper.MapPort(opts.protocol, port, opts.lifetime)
			if err != nil {
				return err
			}
			externalIP, err := mapper.GetExternalIP()
			if err != nil {
				releaseMapping(mapper, opts.protocol, externalPort)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Done! Exited on %s:%d\n", externalIP, externalPort)

			renewal := nattraversal.NewRenewalManager(mapper, opts.protocol, port, externalPort)
			renewal.SetLease(opts.lifetime)
			renewal.Start()
			defer renewal.Stop()

			// Interrupts end the session like "close"; the deferred Stop unmaps.
			if err := sess.run(renewal); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "internal port to map (prompted when 0)")
	cmd.Flags().StringVar(&opts.protocol, "protocol", "TCP", "TCP or UDP")
	cmd.Flags().StringVar(&opts.method, "method", string(nattraversal.MethodAuto), "auto, upnp or natpmp")
	cmd.Flags().DurationVar(&opts.lifetime, "lifetime", 15*time.Minute, "requested mapping lifetime")
	return cmd
}

// releaseMapping removes a mapping the session will not use, logging failures.
func releaseMapping(mapper nattraversal.PortMapper, protocol string, port int) {
	if err := mapper.UnmapPort(protocol, port); err != nil {
		slog.Warn("failed to unmap port",
			"protocol", protocol,
			"port", port,
			"error", err)
	}
}

// discover runs gateway discovery and turns an empty result into ErrNoGateway.
func discover(ctx context.Context, root *rootOptions) ([]nattraversal.GatewayPair, error) {
	source, err := nattraversal.ParseRouteSource(root.source)
	if err != nil {
		return nil, err
	}
	pairs, err := nattraversal.NewDiscoverer(nattraversal.WithRouteSource(source)).Discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nattraversal.ErrNoGateway
	}
	return pairs, nil
}

func initLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
