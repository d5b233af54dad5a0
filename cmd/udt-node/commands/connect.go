package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/skycoin/udt/internal/netutil"
	"github.com/skycoin/udt/pkg/udt"
)

var (
	connectMode  string
	retryTimeout time.Duration
)

func init() {
	connectCmd.Flags().StringVar(&connectMode, "mode", "stream", "connection mode: stream or datagram")
	connectCmd.Flags().DurationVar(&retryTimeout, "retry", 10*time.Second, "keep retrying a failing dial for this long")
	rootCmd.AddCommand(connectCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect <addr>",
	Short: "Connect to a listener and pipe stdin and stdout through the connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		mode, err := parseMode(connectMode)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		c, err := dial(ctx, args[0], mode)
		if err != nil {
			return err
		}
		log.Infof("Connected to %s from %s", c.RemoteAddr(), c.LocalAddr())
		pipe(c)
		return nil
	},
}

// dial retries until a connection is up. A refusal is final.
func dial(ctx context.Context, addr string, mode udt.Mode) (*udt.Conn, error) {
	var c *udt.Conn
	r := netutil.NewRetrier(log, 100*time.Millisecond, retryTimeout, 2).WithErrWhitelist(udt.ErrRefused)
	err := r.Do(ctx, func(ctx context.Context) error {
		conn, err := udt.Dial(ctx, addr, mode, conf)
		if err != nil {
			return err
		}
		c = conn
		return nil
	})
	return c, err
}
