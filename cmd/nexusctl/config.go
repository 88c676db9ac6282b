package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/AngkinV/Nexus-Chat/internal/config"
	"github.com/AngkinV/Nexus-Chat/internal/profile"
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var forceInit bool

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ~/.nexus/config.toml",
	// The profile is not needed to edit the global file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with every key at its default",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := profile.ConfigPath()
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s exists (use --force to overwrite)", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := profile.ConfigPath()
		cfg, err := config.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("# %s not found, showing defaults\n", path)
			cfg, err = config.Default(), nil
		}
		if err != nil {
			return err
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}
