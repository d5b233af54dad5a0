package commands

import (
	"github.com/spf13/cobra"

	"github.com/skycoin/udt/internal/udtproxy"
	"github.com/skycoin/udt/pkg/udt"
)

var (
	passcode  string
	localAddr string
)

func init() {
	proxyServerCmd.Flags().StringVar(&passcode, "passcode", "", "passcode clients must present to the SOCKS5 server")
	proxyClientCmd.Flags().StringVar(&localAddr, "addr", ":1080", "local TCP address to accept SOCKS5 clients on")
	rootCmd.AddCommand(proxyServerCmd, proxyClientCmd)
}

var proxyServerCmd = &cobra.Command{
	Use:   "proxy-server <addr>",
	Short: "Serve SOCKS5 to proxy clients connecting over udt",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		srv, err := udtproxy.NewServer(passcode)
		if err != nil {
			return err
		}
		l, err := udt.Listen(args[0], conf)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := srv.Close(); err != nil {
				log.WithError(err).Warn("Failed to close proxy server")
			}
		}()

		log.Infof("Serving SOCKS5 over udt on %s", l.Addr())
		if err := srv.Serve(l); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var proxyClientCmd = &cobra.Command{
	Use:   "proxy-client <server-addr>",
	Short: "Expose a remote proxy server as a local SOCKS5 endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, err := dial(ctx, args[0], udt.StreamMode)
		if err != nil {
			return err
		}
		client, err := udtproxy.NewClient(c)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := client.Close(); err != nil {
				log.WithError(err).Warn("Failed to close proxy client")
			}
		}()

		log.Infof("Forwarding SOCKS5 on %s to %s", localAddr, c.RemoteAddr())
		if err := client.ListenAndServe(localAddr); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}
