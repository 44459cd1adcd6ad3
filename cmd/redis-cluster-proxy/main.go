// redis-cluster-proxy connects cluster-unaware Redis clients to a Redis
// Cluster, following the topology through failovers and reshardings.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/config"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/logger"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/metrics"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/proxy"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "redis-cluster-proxy",
	Short: "Redis Cluster proxy for cluster-unaware clients",
	Long: `redis-cluster-proxy is a daemon that lets applications use a Redis
Cluster without cluster-aware code. It discovers the cluster topology from
an entry point, routes every command to the node owning its key's hash
slot, and reconfigures itself transparently when the cluster topology
changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		log := logger.New(cfg.LogLevel)
		if cfg.MetricsAddr != "" {
			go func() {
				http.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
					log.Errorf("metrics server: %s", err)
				}
			}()
		}
		p := proxy.New(cfg, log)
		return p.Start()
	},
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.redis-cluster-proxy.yaml)")

	rootCmd.PersistentFlags().StringP("bind", "b", "127.0.0.1", "address to bind to")
	rootCmd.PersistentFlags().IntP("port", "p", 7777, "port to listen on")
	rootCmd.PersistentFlags().StringP("entry", "e", "127.0.0.1:6379", "cluster entry point (host:port or unix socket path)")
	rootCmd.PersistentFlags().StringP("auth", "a", "", "authentication password for the cluster and for clients")
	rootCmd.PersistentFlags().IntP("workers", "w", 4, "number of worker goroutines")
	rootCmd.PersistentFlags().Int("max-redirections", 16, "redirections tolerated per request before giving up")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address serving prometheus metrics (disabled when empty)")

	viper.BindPFlags(rootCmd.PersistentFlags())
	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".redis-cluster-proxy")
		viper.AddConfigPath("$HOME")
	}
	viper.SetEnvPrefix("rcproxy")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Unable to read config: %v\n", err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
