package commands

import (
	"github.com/spf13/cobra"

	"github.com/skycoin/udt/pkg/udt"
)

var rendezvousMode string

func init() {
	rendezvousCmd.Flags().StringVar(&rendezvousMode, "mode", "stream", "connection mode: stream or datagram")
	rootCmd.AddCommand(rendezvousCmd)
}

var rendezvousCmd = &cobra.Command{
	Use:   "rendezvous <local-addr> <remote-addr>",
	Short: "Connect to a peer running rendezvous towards this node at the same time",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		mode, err := parseMode(rendezvousMode)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		c, err := udt.Rendezvous(ctx, args[0], args[1], mode, conf)
		if err != nil {
			return err
		}
		log.Infof("Rendezvous with %s established", c.RemoteAddr())
		pipe(c)
		return nil
	},
}
