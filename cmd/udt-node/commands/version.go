package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skycoin/udt/pkg/udt"
	"github.com/skycoin/udt/pkg/udt/packet"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the udt-node version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s (protocol %d)\n", udt.Version, packet.UDTVersion)
	},
}
