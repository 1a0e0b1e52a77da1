// Command discordsync runs the gateway cache client and inspects its
// configuration and persisted statistics.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/small-frappuccino/discordsync/pkg/app"
)

type cli struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer
}

func newCLI(stdout, stderr io.Writer) *cli {
	c := &cli{stdout: stdout, stderr: stderr}
	c.root = &cobra.Command{
		Use:           "discordsync",
		Short:         "Event-driven Discord cache synchronizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.root.SetOut(stdout)
	c.root.SetErr(stderr)
	c.root.AddCommand(
		c.newRunCmd(),
		c.newValidateCmd(),
		c.newStatsCmd(),
		c.newVersionCmd(),
	)
	return c
}

func (c *cli) execute(ctx context.Context, args []string) error {
	c.root.SetArgs(args)
	return c.root.ExecuteContext(ctx)
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "discordsync %s\n", app.Version)
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newCLI(os.Stdout, os.Stderr).execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}
