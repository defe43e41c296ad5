package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hamed0406/loadprobe/internal/config"
)

const envFileFlag = "env-file"

// App holds what the commands read from the process. Tests replace
// LookupEnv to avoid touching the real environment.
type App struct {
	LookupEnv func(string) (string, bool)

	// lookup is LookupEnv with the env file folded in, set before any
	// sub-command runs.
	lookup func(string) (string, bool)
}

// Execute runs the command line in args with the process environment.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand(&App{LookupEnv: os.LookupEnv})
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func NewRootCommand(app *App) *cobra.Command {
	if app.LookupEnv == nil {
		app.LookupEnv = os.LookupEnv
	}

	root := &cobra.Command{
		Use:   "loadprobe",
		Short: "Generate steady synthetic probe traffic against an HTTP endpoint or a Postgres server",
		Long: "loadprobe runs N independent workers. Each worker probes the target once per interval " +
			"and logs every failed attempt together with the configured timeouts.\n\n" +
			"Settings are taken from defaults, then flags, then " + config.EnvPrefix + "* environment variables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return &config.Error{Option: "mode", Err: errors.New("a mode is required: http or db")}
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadEnvFile(cmd.Flags())
		},
	}

	root.PersistentFlags().String(envFileFlag, ".env", "read "+config.EnvPrefix+"* variables from this file; the process environment wins")
	defaults := config.Default(config.ModeHTTP)
	for _, o := range config.Options(config.ModeHTTP) {
		if o.Global() {
			addFlag(root.PersistentFlags(), o, defaults)
		}
	}

	root.AddCommand(
		app.modeCommand(config.ModeHTTP, "Probe an HTTP(S) URL with GET requests"),
		app.modeCommand(config.ModeDB, "Probe a Postgres server by connecting or acquiring pooled connections"),
	)
	return root
}

func (a *App) modeCommand(mode config.Mode, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, mode)
		},
	}
	defaults := config.Default(mode)
	for _, o := range config.Options(mode) {
		if !o.Global() {
			addFlag(cmd.Flags(), o, defaults)
		}
	}
	return cmd
}

// loadEnvFile reads the env file without modifying the process
// environment. A missing default file is not an error.
func (a *App) loadEnvFile(flags *pflag.FlagSet) error {
	a.lookup = a.LookupEnv

	path, err := flags.GetString(envFileFlag)
	if err != nil || path == "" {
		return err
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !flags.Changed(envFileFlag) {
			return nil
		}
		return &config.Error{Option: "env_file", Source: path, Err: err}
	}

	a.lookup = func(key string) (string, bool) {
		if v, ok := a.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vals[key]
		return v, ok
	}
	return nil
}

func addFlag(set *pflag.FlagSet, o config.Option, defaults config.Config) {
	def := o.DefaultValue(defaults)
	switch o.Kind {
	case config.KindInt:
		n, _ := strconv.Atoi(def)
		set.Int(o.Flag(), n, o.Usage)
	case config.KindBool:
		set.Bool(o.Flag(), def == "true", o.Usage)
	default:
		set.String(o.Flag(), def, o.Usage)
	}
}

// flagLayer holds only the flags given on the command line, so unset flags
// never shadow lower layers.
func flagLayer(set *pflag.FlagSet) config.Layer {
	l := config.Layer{Source: "flags", Values: map[string]string{}}
	set.Visit(func(f *pflag.Flag) {
		name := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := config.Lookup(name); ok {
			l.Values[name] = f.Value.String()
		}
	})
	return l
}
