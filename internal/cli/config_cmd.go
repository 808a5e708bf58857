package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"lapscreen/internal/config"
	"lapscreen/internal/tasks"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate lapscreen configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configValidate()
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func (r *Root) configShow() error {
	data, err := json.MarshalIndent(r.cfg, "", "  ")
	if err != nil {
		return err
	}
	r.printf("Config file: %s\n\n%s\n", config.Path(), data)
	return nil
}

func (r *Root) configValidate() error {
	if err := r.cfg.Validate(); err != nil {
		r.log.Warn("configuration validation", "status", "invalid", "error", err)
		return err
	}
	if _, err := tasks.OptionsFromConfig(r.cfg); err != nil {
		r.log.Warn("configuration validation", "status", "invalid", "error", err)
		return fmt.Errorf("editing options: %w", err)
	}
	r.log.Info("configuration validation", "status", "valid")
	r.printf("Configuration is valid\n")
	return nil
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printf("lapscreen %s\n", Version)
			root.printf("Built with Go %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			root.printf("Detector backend: %s\n", root.cfg.Detector.Backend)
		},
	}
}
