// Package main is the library binary: the web server plus maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/autosave"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/editor"
	"github.com/debemdeboas/the-library/internal/logger"
	"github.com/debemdeboas/the-library/internal/render"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/search"
	"github.com/debemdeboas/the-library/internal/sse"
	"github.com/debemdeboas/the-library/internal/storage"
	"github.com/debemdeboas/the-library/internal/views"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const appName = "library"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Free educational PDFs and a community blog",
		Long: `The library serves a catalog of PDFs stored in S3 compatible object storage
and a blog written in the browser with autosaving drafts.

Running it without a subcommand starts the web server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(flags),
		configCmd(),
		importCmd(flags),
		viewsCmd(flags),
		adminCmd(),
	)
	return cmd
}

// setup loads the configuration and hands the configured logger to every package.
func setup(flags *globalFlags) (*config.Config, zerolog.Logger, error) {
	// The config package logs while loading, before the real logger exists.
	config.SetLogger(logger.New(logger.Options{Level: flags.logLevel}))

	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	log := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	config.SetLogger(log.With().Str("component", "config").Logger())
	docstore.SetLogger(log.With().Str("component", "docstore").Logger())
	repository.SetLogger(log.With().Str("component", "repository").Logger())
	views.SetLogger(log.With().Str("component", "views").Logger())
	autosave.SetLogger(log.With().Str("component", "autosave").Logger())
	editor.SetLogger(log.With().Str("component", "editor").Logger())
	storage.SetLogger(log.With().Str("component", "storage").Logger())
	render.SetLogger(log.With().Str("component", "render").Logger())
	sse.SetLogger(log.With().Str("component", "sse").Logger())
	auth.SetLogger(log.With().Str("component", "auth").Logger())
	search.SetLogger(log.With().Str("component", "search").Logger())

	return cfg, log, nil
}
