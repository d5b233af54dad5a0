package commands

import (
	"context"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/udt/internal/pathutil"
	"github.com/skycoin/udt/pkg/metrics"
	"github.com/skycoin/udt/pkg/udt"
)

const configEnv = "UDT_CONFIG"

var (
	logLevel    string
	syslogAddr  string
	tag         string
	metricsAddr string
	configPath  string
	mtu         uint32
	linger      time.Duration

	log  = logging.MustGetLogger("udt-node")
	conf = udt.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "udt-node",
	Short: "Reliable transport over UDP",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		lvl, err := logging.LevelFromString(logLevel)
		if err != nil {
			return errors.Wrap(err, "log level")
		}
		logging.SetLevel(lvl)

		if syslogAddr != "" {
			hook, err := logrus_syslog.NewSyslogHook("udp", syslogAddr, syslog.LOG_INFO, tag)
			if err != nil {
				log.Errorf("Unable to connect to syslog daemon on %v", syslogAddr)
			} else {
				logging.AddHook(hook)
			}
		}

		if err := loadConfig(); err != nil {
			return err
		}
		if cmd.Flags().Changed("mtu") {
			conf.MaxPacketSize = mtu
		}
		if cmd.Flags().Changed("linger") {
			conf.LingerTime = linger
		}

		if metricsAddr != "" {
			conf.Metrics = metrics.NewPrometheus("udt")
			go func() {
				if err := http.ListenAndServe(metricsAddr, metricsRouter()); err != nil {
					log.WithError(err).Error("Failed to start metrics API")
				}
			}()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&syslogAddr, "syslog", "", "syslog server address. E.g. localhost:514")
	rootCmd.PersistentFlags().StringVar(&tag, "tag", "udt-node", "logging tag")
	rootCmd.PersistentFlags().StringVarP(&metricsAddr, "metrics", "m", "", "address to bind the metrics API to")
	rootCmd.PersistentFlags().Uint32Var(&mtu, "mtu", 1500, "maximum packet size including IP and UDP headers")
	rootCmd.PersistentFlags().DurationVar(&linger, "linger", 3*time.Second, "how long Close waits for unacknowledged data")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the JSON configuration, $"+configEnv+" is used when empty")
}

func loadConfig() error {
	path, err := pathutil.FindConfigPath(configPath, configEnv)
	if err == pathutil.ErrConfigNotFound {
		log.Debug("No config file found, using defaults")
		return nil
	}
	if err != nil {
		return err
	}
	return pathutil.ReadJSONConfig(path, conf)
}

func parseMode(s string) (udt.Mode, error) {
	switch s {
	case "stream":
		return udt.StreamMode, nil
	case "datagram", "dgram":
		return udt.DatagramMode, nil
	default:
		return 0, errors.Errorf("unknown mode %q, want stream or datagram", s)
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-ch:
			log.Infof("Received signal %s: terminating", s)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
