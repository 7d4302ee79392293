package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"zappy-ai/internal/domain"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the client and maps its outcome to a process exit status.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, domain.ErrDead):
		return domain.ExitOK
	}
	fmt.Fprintf(stderr, "zappy-ai: %v\n", err)
	status := domain.ExitStatusOf(err)
	if status == domain.ExitUsage {
		fmt.Fprintf(stderr, "\n%s", cmd.UsageString())
	}
	return status
}
