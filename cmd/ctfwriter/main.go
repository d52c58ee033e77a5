package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/ctfwriter"
	"github.com/loykin/ctfwriter/internal/logger"
)

func main() {
	root := buildRoot(command{out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// buildRoot creates the root command and its subcommands.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createWriteCommand(c),
		createMetadataCommand(c),
		createInspectCommand(c),
		createDemoCommand(c),
	)
	return root
}

// createRootCommand creates the root command with logging and metrics flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "ctfwriter",
		Short: "Write and inspect Common Trace Format traces",
		Long: `ctfwriter writes CTF 1.8 traces from a TOML schema declaration and
inspects the packets of existing stream files.

Examples:
  ctfwriter demo --out ./trace
  ctfwriter write --config trace.toml --events 1000
  ctfwriter metadata --config trace.toml
  ctfwriter inspect ./trace/my_stream_0`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(logger.Config{Slog: logger.SlogConfig{
				Level:  flags.LogLevel,
				Format: flags.LogFormat,
			}}.NewSlogger())
			if flags.MetricsAddr != "" {
				if err := ctfwriter.RegisterMetricsDefault(); err != nil {
					return err
				}
				go func() {
					if err := ctfwriter.ServeMetrics(flags.MetricsAddr); err != nil {
						slog.Error("metrics server stopped", slog.String("addr", flags.MetricsAddr), slog.Any("error", err))
					}
				}()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", logger.LevelInfo, "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", logger.FormatText, "log format: text or json")
	root.PersistentFlags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	return root
}

func createWriteCommand(c command) *cobra.Command {
	f := &WriteFlags{}
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a trace declared in a TOML config",
		Long: `Build the clocks, stream classes and event classes declared in the config,
open one stream per stream class and append N synthetic events per event
class with deterministic values.`,
		RunE: func(cmd *cobra.Command, args []string) error { return c.Write(*f) },
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to TOML config file (required)")
	cmd.Flags().StringVar(&f.OutDir, "out", "", "trace directory (overrides [writer].path)")
	cmd.Flags().IntVar(&f.Events, "events", 10, "events per event class")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func createMetadataCommand(c command) *cobra.Command {
	f := &MetadataFlags{}
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Print the metadata of a trace declared in a TOML config",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Metadata(*f) },
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to TOML config file (required)")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func createInspectCommand(c command) *cobra.Command {
	f := &InspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the packet headers and contexts of a stream file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.File = args[0]
			return c.Inspect(*f)
		},
	}
	cmd.Flags().StringVar(&f.ByteOrder, "byte-order", "native", "trace byte order: native, le, be")
	cmd.Flags().BoolVar(&f.CPUID, "cpu-id", false, "packet contexts carry cpu_id")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print packets as JSON")
	return cmd
}

func createDemoCommand(c command) *cobra.Command {
	f := &DemoFlags{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Write the example trace",
		Long: `Write a trace with one stream of events carrying a structure, a string,
a float, an enumeration and an array.`,
		RunE: func(cmd *cobra.Command, args []string) error { return c.Demo(*f) },
	}
	cmd.Flags().StringVar(&f.OutDir, "out", "", "trace directory (required)")
	cmd.Flags().IntVar(&f.Events, "events", 100, "number of events")
	if err := cmd.MarkFlagRequired("out"); err != nil {
		panic(err)
	}
	return cmd
}
