// inkbridge runs the editor side of the host bridge: a headless rich-text
// surface whose media attachments are uploaded through the host.
//
//	inkbridge serve              Run the editor endpoint
//	inkbridge normalize <file>   Print normalized markup
//	inkbridge journal            Show attachment lifecycle history
//	inkbridge config             Print the effective configuration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// App carries state shared by every subcommand.
type App struct {
	ConfigPath string
}

func newRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "inkbridge",
		Short:         "Embedded rich-text editor endpoint for host applications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "", "configuration file (default: platform config dir)")

	root.AddCommand(
		newServeCmd(app),
		newNormalizeCmd(),
		newJournalCmd(app),
		newConfigCmd(app),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&App{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "inkbridge: %v\n", err)
		stop()
		os.Exit(1)
	}
}
