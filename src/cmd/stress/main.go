package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"panel-capture/src/singleinstance"
)

type stressOptions struct {
	n        int
	command  string
	deadline time.Duration
}

type tally struct {
	ok, busy, missing, failed int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress",
		Short:         "Fire concurrent control commands at the resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := singleinstance.ParseCommand(opts.command)
			if err != nil {
				return err
			}
			start := time.Now()
			t := fire(singleinstance.NewClient(), c, opts.n, opts.deadline)
			report(cmd.OutOrStdout(), opts.n, t, time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.command, "command", string(singleinstance.CmdRunOnce), "control command to send")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 2*time.Minute, "per-client timeout")

	return cmd
}

func fire(client singleinstance.Client, cmd singleinstance.Command, n int, deadline time.Duration) tally {
	var wg sync.WaitGroup
	var t tally
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deadline)
			defer cancel()
			delegated, _, err := client.Send(ctx, cmd)
			switch {
			case err != nil && strings.Contains(strings.ToLower(err.Error()), "busy"):
				atomic.AddInt32(&t.busy, 1)
			case err != nil:
				atomic.AddInt32(&t.failed, 1)
			case !delegated:
				atomic.AddInt32(&t.missing, 1)
			default:
				atomic.AddInt32(&t.ok, 1)
			}
		}()
	}
	wg.Wait()
	return t
}

func report(w io.Writer, n int, t tally, elapsed time.Duration) {
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d no-resident=%d err=%d elapsed=%s\n", n, t.ok, t.busy, t.missing, t.failed, elapsed.Round(time.Millisecond))
}
