package app

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roman-kulish/rocket-telemetry/internal/api"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var flags sessionFlags
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP and websocket",
		Long: `serve exposes the session through a JSON API (connect, disconnect, export,
state, history, latest reading, ports) and streams events over /api/ws.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, logger := opts.config, opts.logger
			if listen != "" {
				config.Server.Listen = listen
			}
			if err := flags.apply(config); err != nil {
				return err
			}

			host, err := newSessionHost(config, serialOpener(config), logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			server := api.NewServer(api.Dependencies{
				Controller: host.session,
				Version:    Version,
			}, api.WithLogger(logger))

			go server.Hub().Forward(ctx, host.session.Events(), host.session.Status)
			if interval := config.Server.HistoryInterval.Duration(); interval > 0 {
				go server.Hub().PublishHistory(ctx, interval, host.session.History)
			}

			if flags.connect {
				if err = host.connect(); err != nil {
					return errors.Join(err, host.Close())
				}
			}

			err = server.Run(ctx, config.Server.Listen)
			return errors.Join(err, host.Close())
		},
	}

	flags.register(cmd, false)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address, overrides server.listen")
	return cmd
}
