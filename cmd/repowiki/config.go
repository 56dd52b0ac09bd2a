package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/repowiki/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the user config file",
}

func configManager() (*config.Manager, error) {
	if flagConfig != "" {
		return config.NewManagerAt(flagConfig), nil
	}
	return config.NewManager()
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := configManager()
		if err != nil {
			return err
		}
		fmt.Println(m.Path())
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one stored value, or every stored value",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := configManager()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			v, ok, err := m.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not set in %s", args[0], m.Path())
			}
			fmt.Println(v)
			return nil
		}
		settings, keys, err := m.Settings()
		if err != nil {
			return err
		}
		for _, k := range keys {
			v := settings[k]
			if strings.HasSuffix(k, "api_key") {
				v = "********"
			}
			fmt.Printf("%s = %v\n", k, v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := configManager()
		if err != nil {
			return err
		}
		if err := m.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✅ %s saved to %s\n", args[0], m.Path())
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := configManager()
		if err != nil {
			return err
		}
		return m.Unset(args[0])
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after defaults and environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// API keys are excluded from JSON by providers.Spec.
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		fmt.Printf("\nConfigurable keys: %s\n", strings.Join(config.Keys(), ", "))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPathCmd, configGetCmd, configSetCmd, configUnsetCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
