// Command localdocs imports document packages, builds ANN artifacts and
// searches or serves the imported documents.
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
)

const usage = `Usage: localdocs [-config file] <command> [options] [args]

Commands:
  import       import shard or package files into the configured store
  build-index  attach an ANN artifact to a package and write a shard
  build-routing
               write document and section centroids for query routing
  search       embed a query and print the best matching chunks
  serve        answer search requests over NATS

Run 'localdocs <command> -h' for command options.
`

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"import":        runImport,
	"build-index":   runBuildIndex,
	"build-routing": runBuildRouting,
	"search":        runSearch,
	"serve":         runServe,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "localdocs: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("localdocs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", os.Getenv("LOCALDOCS_CONFIG"), "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}

	a, err := newApp(*configPath, stdout, stderr)
	if err != nil {
		return err
	}
	return cmd(ctx, a, rest[1:])
}
