// Package cli implements reconcilectl, the operator command line for the
// reconciliation API.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/vanshika/wastelca/internal/config"
	"github.com/vanshika/wastelca/internal/logging"
	"github.com/vanshika/wastelca/internal/reconcile"
	"github.com/vanshika/wastelca/internal/remote"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// BuildDate is set at build time.
var BuildDate = "unknown"

// app carries what every subcommand needs once flags and config are resolved.
type app struct {
	settings Settings
	logger   *slog.Logger
	out      io.Writer
	client   *remote.Client

	queries    *reconcile.QueryService
	resolver   *reconcile.Resolver
	aggregator *reconcile.Aggregator
}

func (a *app) workflowDeps(detectConflicts bool) reconcile.WorkflowDeps {
	return reconcile.WorkflowDeps{
		Resolver:        a.resolver,
		Lookup:          a.client,
		Aggregator:      a.aggregator,
		Logger:          a.logger,
		Actor:           a.settings.Actor,
		DetectConflicts: detectConflicts,
	}
}

// NewRootCommand builds the reconcilectl command tree. Output goes to out,
// logs to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	v := newViper()
	a := &app{out: out}
	var cfgFile string

	root := &cobra.Command{
		Use:           "reconcilectl",
		Short:         "Inspect and resolve waste transaction mappings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := readConfigFile(v, cfgFile); err != nil {
				return err
			}
			settings, err := loadSettings(v)
			if err != nil {
				return err
			}
			return a.connect(cmd.Context(), settings, errOut)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/wastelca/config.yaml)")
	flags.String("server", "", "reconciliation API base URL")
	flags.String("token", "", "static bearer token")
	flags.StringP("output", "o", "", "output format: table or json")
	flags.String("actor", "", "name recorded with commits")
	bindFlag(v, root, keyServerURL, "server")
	bindFlag(v, root, keyToken, "token")
	bindFlag(v, root, keyOutput, "output")
	bindFlag(v, root, keyActor, "actor")

	root.AddCommand(
		newQueryCommand(a),
		newSlotCommand(a),
		newHistoryCommand(a),
		newSummaryCommand(a),
		newBatchCommand(a),
		newExportCommand(a),
		newVersionCommand(),
	)
	return root
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func (a *app) connect(ctx context.Context, settings Settings, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.settings = settings
	a.logger = logging.NewWithWriter(errOut, config.LoggingConfig{Level: settings.LogLevel, Format: settings.LogFormat})

	var tokens oauth2.TokenSource
	switch {
	case settings.TokenURL != "":
		tokens = remote.ClientCredentials(ctx, settings.TokenURL, settings.ClientID, settings.ClientSecret, settings.Scopes)
	case settings.Token != "":
		tokens = remote.StaticToken(settings.Token)
	}

	client, err := remote.New(ctx, remote.Options{
		BaseURL:     settings.ServerURL,
		TokenSource: tokens,
		Timeout:     settings.Timeout,
	})
	if err != nil {
		return err
	}
	a.client = client
	a.queries = reconcile.NewQueryService(client)
	a.resolver = reconcile.NewResolver(client, client, a.logger)
	a.aggregator = reconcile.NewAggregator(client, client, a.logger, reconcile.AggregatorOptions{})
	return nil
}

// Execute runs reconcilectl with the process arguments.
func Execute(ctx context.Context) int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
