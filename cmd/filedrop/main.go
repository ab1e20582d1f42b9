package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/filedrop/internal/logger"
	"github.com/marmos91/filedrop/pkg/client"
)

const usage = `Usage: filedrop [-host host] [-port port] <command> [filename]

Commands:
  list           List the files stored on the server
  put <file>     Upload a local text file

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one client command and returns the process exit code: 0 on
// success, 1 when the command failed, 2 on a usage error.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("filedrop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("host", "localhost", "Server host")
	port := fs.Int("port", 9487, "Server port")
	timeout := fs.Duration("timeout", 0, "Overall request timeout (0 = none)")
	logLevel := fs.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger.SetLevel(*logLevel)
	_ = logger.SetOutput("stderr")

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	c := client.New(client.Config{Host: *host, Port: *port, DialTimeout: 10 * time.Second})

	switch rest[0] {
	case "list":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "Error: 'list' command does not take additional arguments.")
			return 2
		}
		return list(ctx, c, stdout, stderr)

	case "put":
		if len(rest) != 2 {
			fmt.Fprintln(stderr, "Error: 'put' command requires a filename argument.")
			return 2
		}
		return put(ctx, c, rest[1], stdout, stderr)

	default:
		fmt.Fprintln(stderr, "Invalid command. Valid commands are: [list, put]")
		return 2
	}
}

func list(ctx context.Context, c *client.Client, stdout, stderr io.Writer) int {
	listing, err := c.List(ctx)
	if err != nil {
		return reportError(err, stdout, stderr)
	}
	for _, line := range listing.Lines {
		fmt.Fprintln(stdout, line)
	}
	return 0
}

func put(ctx context.Context, c *client.Client, path string, stdout, stderr io.Writer) int {
	if _, err := c.Put(ctx, path); err != nil {
		switch {
		case errors.Is(err, client.ErrCannotOpen):
			fmt.Fprintf(stdout, "Error: Cannot open local file '%s' for reading.\n", path)
			return 1
		case errors.Is(err, client.ErrFileTooLarge):
			fmt.Fprintln(stdout, "Error: File size exceeds the 64KB limit.")
			return 1
		}
		return reportError(err, stdout, stderr)
	}
	fmt.Fprintf(stdout, "Uploaded file %s.\n", path)
	return 0
}

// reportError prints server error lines as received and everything else as
// a connection problem.
func reportError(err error, stdout, stderr io.Writer) int {
	var serverErr *client.ServerError
	if errors.As(err, &serverErr) {
		fmt.Fprintln(stdout, serverErr.Line)
		return 1
	}
	fmt.Fprintf(stderr, "I/O error: %v\n", err)
	return 1
}
