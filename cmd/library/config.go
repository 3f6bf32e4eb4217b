package main

import (
	"fmt"
	"io"
	"os"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const exampleConfigHeader = "# The Library Configuration Example\n# Copy this file to config.yaml and customize as needed\n\n"

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate [file|-]",
		Short: "Write the default configuration as YAML",
		Long: `Write every setting with its default value. Secrets are read from the
environment only and are left out. The default output file is config.example.yaml;
pass - to print to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFile := "config.example.yaml"
			if len(args) > 0 {
				outputFile = args[0]
			}

			if outputFile == "-" {
				return writeExampleConfig(cmd.OutOrStdout())
			}

			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("create %s: %w", outputFile, err)
			}
			defer f.Close()
			if err := writeExampleConfig(f); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Generated example config: "+outputFile))
			return nil
		},
	})
	return cmd
}

func writeExampleConfig(w io.Writer) error {
	yamlData, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("generate YAML: %w", err)
	}
	if _, err := io.WriteString(w, exampleConfigHeader); err != nil {
		return err
	}
	_, err = w.Write(yamlData)
	return err
}
