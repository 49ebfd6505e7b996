package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roman-kulish/rocket-telemetry/internal/link"
)

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := link.ListPorts()
			if err != nil {
				return err
			}
			return printPorts(cmd.OutOrStdout(), ports)
		},
	}
}

func printPorts(out io.Writer, ports []link.PortInfo) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(out, "no serial ports found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tDESCRIPTION")
	for _, p := range ports {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
	}
	return w.Flush()
}
