package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openvoicepacks/ovp/internal/build"
	"github.com/openvoicepacks/ovp/internal/cache"
	"github.com/openvoicepacks/ovp/internal/provider"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

var (
	buildOutDir      string
	buildProvider    string
	buildVoice       string
	buildLanguage    string
	buildPackName    string
	buildZip         bool
	buildNoChecksum  bool
	buildNormalize   bool
	buildDryRun      bool
	buildNoCache     bool
	buildConcurrency int

	buildCmd = &cobra.Command{
		Use:   "build <pack.yml|pack.csv>",
		Short: "Build a voicepack from a pack file",
		Long: paragraph(
			fmt.Sprintf("\nSynthesize every phrase in a pack file, convert the audio to the %s layout and write checksums.", keyword("firmware")),
		),
		Example: paragraph("ovp build pack.yml\novp build --provider piper --voice en_GB-alan-medium sounds.csv"),
		Args:    cobra.ExactArgs(1),
		RunE:    runBuild,
	}
)

func init() {
	buildCmd.Flags().StringVarP(&buildOutDir, "out", "o", "", "output directory (default \"build\")")
	buildCmd.Flags().StringVar(&buildProvider, "provider", "", "override the pack's synthesis provider")
	buildCmd.Flags().StringVar(&buildVoice, "voice", "", "override the pack's voice")
	buildCmd.Flags().StringVar(&buildLanguage, "language", "", "override the pack's language tag")
	buildCmd.Flags().StringVar(&buildPackName, "name", "", "pack name (required for CSV input)")
	buildCmd.Flags().BoolVar(&buildZip, "zip", false, "archive the pack directory into a zip")
	buildCmd.Flags().BoolVar(&buildNoChecksum, "no-checksum", false, "skip the checksum manifest")
	buildCmd.Flags().BoolVar(&buildNormalize, "normalize", false, "peak-normalize audio to a consistent level")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "synthesize and convert but write nothing")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "bypass the synthesis cache")
	buildCmd.Flags().IntVarP(&buildConcurrency, "concurrency", "j", 0, "parallel synthesis requests")

	_ = viper.BindPFlag("output", buildCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("concurrency", buildCmd.Flags().Lookup("concurrency"))
}

func runBuild(cmd *cobra.Command, args []string) error {
	pack, err := loadPack(args[0])
	if err != nil {
		return err
	}
	applyBuildFlags(cmd, pack)

	p, err := newProvider(pack.Voice.Provider)
	if err != nil {
		return err
	}

	cfg := build.Config{
		Provider:  p,
		OutputDir: outputDir(),
	}
	if !buildNoCache {
		c, err := cache.New(defaultCacheDir(mustEnvConfig()))
		if err != nil {
			log.Warn("synthesis cache unavailable", "err", err)
		} else {
			cfg.Cache = c
			defer c.Close()
		}
	}

	report, err := build.New(cfg).Build(cmd.Context(), pack)
	if err != nil {
		return err
	}

	printReport(report)
	if !report.OK() {
		return buildFailure(report)
	}
	return nil
}

// buildFailure summarizes why a finished build is not clean.
func buildFailure(r *build.Report) error {
	if len(r.Failed) > 0 {
		return fmt.Errorf("%d of %d phrases failed", len(r.Failed), len(r.Failed)+len(r.Succeeded))
	}
	return fmt.Errorf("finalize failed: %s", strings.Join(r.FinalizeErrors, "; "))
}

// loadPack parses a pack file, dispatching on extension: .csv for the
// community spreadsheet export, everything else as YAML.
func loadPack(path string) (*voicepack.Pack, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open pack file: %w", err)
		}
		defer f.Close() //nolint:errcheck
		return voicepack.FromCSV(f)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read pack file: %w", err)
	}
	return voicepack.FromYAML(data)
}

// applyBuildFlags overlays CLI flags onto the parsed pack. Flags win over
// the pack file, which wins over defaults.
func applyBuildFlags(cmd *cobra.Command, pack *voicepack.Pack) {
	if buildPackName != "" {
		pack.Name = buildPackName
		pack.Packname = strings.ReplaceAll(buildPackName, " ", "_")
	}
	if buildProvider != "" {
		pack.Voice.Provider = buildProvider
	}
	if buildVoice != "" {
		pack.Voice.Voice = buildVoice
	}
	if buildLanguage != "" {
		pack.Voice.Language = buildLanguage
	}
	if cmd.Flags().Changed("zip") {
		pack.Output.Zip = buildZip
	}
	if buildNoChecksum {
		pack.Output.Checksum = false
	}
	if cmd.Flags().Changed("normalize") {
		pack.Output.Normalize = buildNormalize
	}
	pack.Output.DryRun = buildDryRun
	// Precedence: flag, then the pack file, then the config file/env.
	switch {
	case buildConcurrency > 0:
		pack.Output.Concurrency = buildConcurrency
	case pack.Output.Concurrency == 0:
		if n := viper.GetInt("concurrency"); n > 0 {
			pack.Output.Concurrency = n
		}
	}
}

// newProvider constructs the named provider with its settings block from the
// config file (provider.<id>.*). Settings hold tuning knobs only; cloud
// credentials come from each backend's standard credential chain.
func newProvider(id string) (provider.Provider, error) {
	settings := viper.GetStringMapString("provider." + id)
	p, err := provider.New(id, settings)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize provider %q (known: %s): %w",
			id, strings.Join(provider.IDs(), ", "), err)
	}
	return p, nil
}

func outputDir() string {
	if buildOutDir != "" {
		return buildOutDir
	}
	if dir := viper.GetString("output"); dir != "" {
		return dir
	}
	return "build"
}

func mustEnvConfig() envConfig {
	cfg, err := loadEnvConfig()
	if err != nil {
		log.Warn("ignoring malformed environment", "err", err)
		return envConfig{}
	}
	return cfg
}

// printReport renders the build outcome for humans.
func printReport(r *build.Report) {
	fmt.Println()
	fmt.Println(paragraph(fmt.Sprintf("%s %s", keyword(r.Pack), subtle("("+r.Provider+"/"+r.Voice+")"))))

	status := okStyle.Render(r.State.String())
	if !r.OK() {
		status = errorStyle.Render(r.State.String())
	}
	fmt.Println(paragraph(fmt.Sprintf("%s in %s", status, r.Elapsed.Round(10*time.Millisecond))))

	summary := fmt.Sprintf("%d phrases", len(r.Succeeded))
	if r.CacheHits > 0 {
		summary += fmt.Sprintf(", %d from cache", r.CacheHits)
	}
	if r.BytesWritten > 0 {
		summary += ", " + humanize.Bytes(uint64(r.BytesWritten))
	}
	fmt.Println(paragraph(summary))

	if r.OutputPath != "" {
		fmt.Println(paragraph(subtle("output: ") + r.OutputPath))
	}
	if r.ArchivePath != "" {
		fmt.Println(paragraph(subtle("archive: ") + r.ArchivePath))
	}
	if r.Checksum != "" {
		fmt.Println(paragraph(subtle("checksum: ") + r.Checksum))
	}

	for _, id := range r.FailedIDs() {
		fmt.Println(paragraph(errorStyle.Render("✗ "+id) + subtle(" "+r.Failed[id])))
	}
	for _, msg := range r.FinalizeErrors {
		fmt.Println(paragraph(errorStyle.Render("✗ finalize") + subtle(" "+msg)))
	}
	fmt.Println()
}
