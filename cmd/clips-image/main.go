// Command clips-image inspects, verifies and converts binary images kept in
// a blob store.
//
//	clips-image [-config file] inspect name
//	clips-image [-config file] verify [-prefix p] [name...]
//	clips-image [-config file] convert [-compression c] src dst
//
// Without -config the store is the current directory. Images are loaded with
// every function reference deferred, so no functions need to be registered.
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

const version = "0.1.0"

// errUsage is returned for malformed command lines after usage was printed.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "clips-image: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer, fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(w, "Usage: clips-image [flags] <inspect|verify|convert> [args]\n\nFlags:\n")
		fs.PrintDefaults()
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("clips-image", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(stderr, fs)

	configFile := fs.String("config", "", "Path to a YAML configuration file")
	format := fs.String("codec", "go-json", "JSON codec for output (go-json or json)")
	showVersion := fs.Bool("version", false, "Show version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if *showVersion {
		fmt.Fprintf(stdout, "clips-image v%s\n", version)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	t, err := newTool(ctx, *configFile, *format, stdout, stderr)
	if err != nil {
		return err
	}
	defer t.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "inspect":
		return t.inspect(ctx, rest)
	case "verify":
		return t.verify(ctx, rest)
	case "convert":
		return t.convert(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}
