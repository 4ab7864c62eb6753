package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/treesync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration after all overrides",
			Long: `Print the configuration every other command would run with: defaults,
then the config file, then TREESYNC_* variables, then flags. The text
form is valid TOML and can be saved as a config file.`,
			Args: cobra.NoArgs,
			RunE: runConfigShow,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file and state database locations",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
	)

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
}

type configPaths struct {
	ConfigFile   string `json:"config_file"`
	ConfigExists bool   `json:"config_exists"`
	StateDB      string `json:"state_db"`
	LockDir      string `json:"lock_dir"`
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	paths := configPaths{
		ConfigFile: config.ConfigFile(config.ReadEnvOverrides(cc.Logger),
			config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath}),
		StateDB: cc.Cfg.StatePath(),
		LockDir: config.DefaultLockDir(),
	}

	_, err := os.Stat(paths.ConfigFile)

	switch {
	case err == nil:
		paths.ConfigExists = true
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checking config file: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), paths)
	}

	note := ""
	if !paths.ConfigExists {
		note = " (not found, using defaults)"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s%s\n", paths.ConfigFile, note)
	fmt.Fprintf(out, "State:  %s\n", paths.StateDB)
	fmt.Fprintf(out, "Locks:  %s\n", paths.LockDir)

	return nil
}
