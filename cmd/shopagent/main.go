// Command shopagent runs the background context as a local daemon and
// offers client commands against a running daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	server  string
	token   string
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, newRootCommand(), fang.WithVersion(version)); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "shopagent",
		Short:         "Shopping assistant background daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", "", "daemon base URL, defaults to server.base_url")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "daemon access token, defaults to server.access_token")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCommand(flags),
		newMatchCommand(flags),
		newSessionCommand(flags),
		newSendCommand(flags),
		newWatchCommand(flags),
		newVisitCommand(flags),
	)
	return root
}

func newLogger(verbose bool) *glog.BaseLogger {
	level := glog.Info
	if verbose {
		level = glog.Debug
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("shopagent"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}
