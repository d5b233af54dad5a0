package commands

import (
	"github.com/spf13/cobra"

	"github.com/skycoin/udt/internal/pathutil"
	"github.com/skycoin/udt/pkg/udt"
)

var replace bool

func init() {
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "overwrite an existing config file")
	configCmd.AddCommand(genConfigCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the node configuration",
}

var genConfigCmd = &cobra.Command{
	Use:   "gen [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		output := pathutil.DefaultConfigName
		if len(args) == 1 {
			output = args[0]
		}
		if err := pathutil.WriteJSONConfig(udt.DefaultConfig(), output, replace); err != nil {
			return err
		}
		log.Infof("Wrote default config to %s", output)
		return nil
	},
}
