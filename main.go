/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/anima-graph/engine"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/testbed"
)

type options struct {
	configPath string
	validation bool
	hotReload  bool
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "anima-graph",
		Short:         "Runs the render graph testbed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML or YAML config file")
	cmd.Flags().BoolVar(&opts.validation, "validation", false, "enable the Vulkan validation layers")
	cmd.Flags().BoolVar(&opts.hotReload, "hot-reload", false, "recompile shaders when their files change")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newConfigCommand())
	return cmd
}

// config loads the config file, if any, and applies the flags the user set.
func (o *options) config(cmd *cobra.Command) (core.Config, error) {
	cfg := core.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = core.LoadConfig(o.configPath); err != nil {
			return core.Config{}, err
		}
	}
	if cmd.Flags().Changed("validation") {
		cfg.Validation = o.validation
	}
	if cmd.Flags().Changed("hot-reload") {
		cfg.HotReload = o.hotReload
	}
	if o.logLevel != "" {
		cfg.LogLevel = core.LogLevel(o.logLevel)
	}
	return cfg, cfg.Validate()
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect engine config files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a config file and print its bindless layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %dx%d, shaders in %s\n", cfg.AppName, cfg.Width, cfg.Height, cfg.ShaderRoot)
			for _, b := range cfg.Bindless {
				fmt.Fprintf(out, "  binding %d %-10s %s x%d %v\n", b.Binding, b.Name, b.Type, b.Count, b.Stages)
			}
			return nil
		},
	})
	return cmd
}

func run(ctx context.Context, cfg core.Config) error {
	e, err := engine.New(testbed.NewTestGame(cfg).Game)
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := e.Shutdown(); err != nil {
			core.LogError("shutdown: %s", err)
		}
	}()
	return e.Run(ctx)
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
