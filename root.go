package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lunfardo314/nodexec/config"
	"github.com/lunfardo314/nodexec/executor"
	"github.com/lunfardo314/nodexec/global"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type rootFlags struct {
	configFile string
	initChain  bool
	settings   bool
	version    bool
}

// newRootCmd builds the command. The exit code of the invocation is stored into exitCode
func newRootCmd(out io.Writer, exitCode *int, opts ...executor.Option) *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "nodexec",
		Short: "runs a node of the nodexec network",
		Long: `nodexec runs a node of the nodexec peer-to-peer network.
Without flags it starts the node from the initialized store directory and runs it until interrupted.
      --initchain initializes the store directory
      --settings  prints effective configuration settings
      --version   prints version of the node and its libraries
`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			*exitCode = invoke(cmd, out, flags.configFile, flags.command(), opts...)
			return nil
		},
	}
	rootCmd.SetOut(out)
	flags.define(rootCmd.Flags())
	rootCmd.MarkFlagsMutuallyExclusive("initchain", "settings", "version")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		*exitCode = invoke(cmd, out, flags.configFile, config.CommandHelp, opts...)
	})
	return rootCmd
}

func (f *rootFlags) define(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configFile, "config", "c", "", "config file (default is ./nodexec.yaml)")
	fs.BoolVarP(&f.initChain, "initchain", "i", false, "initialize the store directory")
	fs.BoolVarP(&f.settings, "settings", "s", false, "print the configuration settings")
	fs.BoolVarP(&f.version, "version", "v", false, "print the version information")
}

func (f *rootFlags) command() config.Command {
	switch {
	case f.initChain:
		return config.CommandInitChain
	case f.settings:
		return config.CommandSettings
	case f.version:
		return config.CommandVersion
	}
	return config.CommandRun
}

func helpText(cmd *cobra.Command) func() string {
	return func() string {
		return cmd.Long + "\n" + cmd.UsageString()
	}
}

// invoke loads configuration, builds the logger and runs the executor. Returns the process exit code
func invoke(cmd *cobra.Command, out io.Writer, configFile string, command config.Command, opts ...executor.Option) int {
	v := viper.New()
	config.SetDefaults(v)
	if err := config.ReadIn(v, configFile); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return executor.StatusInvalidConfig.ExitCode()
	}
	// validation error is reported by the executor
	cfg, _ := config.Load(v, command)

	// unknown level is reported by the executor, meanwhile logging goes on at info level
	level, _ := global.ParseLevel(cfg.Logger.Level)
	log, err := global.NewLoggerWithErrorOutputs("", level, cfg.Logger.Output, cfg.Logger.ErrorOutput, cfg.Logger.TimeLayout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return executor.StatusInvalidConfig.ExitCode()
	}
	defer func() { _ = log.Sync() }()

	env := global.New(context.Background(), log)
	defer env.Stop()

	opts = append([]executor.Option{
		executor.WithOutput(out),
		executor.WithHelp(helpText(cmd)),
	}, opts...)
	exec := executor.New(env, cfg, opts...)
	if exec.Invoke() {
		return 0
	}
	return exec.Status().ExitCode()
}

func execute(args []string) int {
	exitCode := 0
	rootCmd := newRootCmd(os.Stdout, &exitCode)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return executor.StatusInvalidConfig.ExitCode()
	}
	return exitCode
}
