// Package main provides the entry point for the ovp CLI, a voicepack build
// tool for EdgeTX and OpenTX radios.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/openvoicepacks/ovp/internal/provider/piper"
	_ "github.com/openvoicepacks/ovp/internal/provider/polly"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	rootCmd = &cobra.Command{
		Use:   "ovp",
		Short: "Build voicepacks for your radio",
		Long: paragraph(
			fmt.Sprintf("\nSynthesize, convert and package %s for EdgeTX and OpenTX radios.", keyword("voicepacks")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
	}
)

// envConfig captures process-environment overrides. Only paths and debug
// toggles live here; provider credentials are resolved by each backend's
// own credential chain and never pass through this program.
type envConfig struct {
	OutputDir string `env:"OVP_OUTPUT_DIR"`
	CacheDir  string `env:"OVP_CACHE_DIR"`
	LogFile   string `env:"OVP_LOGFILE"`
	Debug     bool   `env:"OVP_DEBUG"`
}

func loadEnvConfig() (envConfig, error) {
	cfg, err := env.ParseAs[envConfig]()
	if err != nil {
		return envConfig{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}

// defaultCacheDir returns the synthesis cache location, preferring the
// OVP_CACHE_DIR override, then the platform cache directory.
func defaultCacheDir(cfg envConfig) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	scope := gap.NewScope(gap.User, "ovp")
	dir, err := scope.CacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ovp-cache")
	}
	return filepath.Join(dir, "synthesis")
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))

	viper.SetDefault("output", "build")
	viper.SetDefault("concurrency", 4)

	rootCmd.AddCommand(buildCmd, voicesCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "ovp")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "ovp")}, dirs...)
	}

	if c := os.Getenv("OVP_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("ovp")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("ovp")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "ovp.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
