package cmd

import (
	"fmt"
	"io/fs"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rcp-ptz/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
	webFS   fs.FS
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rcp-ptz",
	Short: "PTZ control gateway for Bosch RCP+ cameras",
	Long: `Expose pan, tilt and zoom of Bosch RCP+ cameras over HTTP.

Each camera is leased to one caller at a time. The lease is renewed by every
move that presents its lock_token and released on stop or after a period
without moves.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		configureLogger(v.GetBool(config.KeyDebug))
	},
}

// Execute runs the command line. static holds the embedded web/ tree.
func Execute(static fs.FS) {
	webFS = static
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or /etc/rcp-ptz/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = v.BindPFlag(config.KeyDebug, rootCmd.PersistentFlags().Lookup("debug"))
}

// configureLogger sets the logrus level and format.
// LOG_LEVEL picks the level, NO_LOGS_TS drops timestamps (journald adds its own).
func configureLogger(debug bool) {
	level := log.InfoLevel
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		level = lvl
	}
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		DisableTimestamp: os.Getenv("NO_LOGS_TS") != "",
	})
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	configureLogger(cfg.Debug)
	return cfg, nil
}
