package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ytget/qrplay"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/pkg/client"
	"github.com/ytget/qrplay/youtube/embed"
	"github.com/ytget/qrplay/youtube/oembed"
)

func main() {
	var (
		flagTimeout   time.Duration
		flagRetries   int
		flagUA        string
		flagProxy     string
		flagLogConfig string
	)

	flag.DurationVar(&flagTimeout, "http-timeout", 10*time.Second, "HTTP timeout for metadata lookups (e.g., 10s, 1m)")
	flag.IntVar(&flagRetries, "retries", 3, "HTTP retries for transient errors")
	flag.StringVar(&flagUA, "ua", "", "Override User-Agent header")
	flag.StringVar(&flagProxy, "proxy", "", "Proxy URL (http/https/socks)")
	flag.StringVar(&flagLogConfig, "log-config", "", "JSON logging config file. Empty reads QRPLAY_LOG_* variables")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nCommands:")
		fmt.Fprintln(os.Stderr, "  resolve [-origin url] <url>   Print service, video id and embed URL")
		fmt.Fprintln(os.Stderr, "  embed [-origin url] <url>     Print the embed URL")
		fmt.Fprintln(os.Stderr, "  play [flags]                  Play rounds from the terminal")
		fmt.Fprintln(os.Stderr, "  serve [flags]                 Serve the game page")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := setupLogger(flagLogConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log configuration: %v\n", err)
		os.Exit(2)
	}

	httpClient := client.NewWith(client.Config{Timeout: flagTimeout, Retries: flagRetries, UserAgent: flagUA, ProxyURL: flagProxy})
	lookup := oembed.New(httpClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	switch args[0] {
	case "resolve":
		code = runResolve(args[1:], os.Stdout, os.Stderr)
	case "embed":
		code = runEmbed(args[1:], os.Stdout, os.Stderr)
	case "play":
		code = runPlay(ctx, args[1:], lookup, os.Stdin, os.Stdout, os.Stderr)
	case "serve":
		code = runServe(ctx, args[1:], lookup, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		flag.Usage()
		code = 2
	}
	stop()
	os.Exit(code)
}

// setupLogger installs the global logger from a config file or the environment.
func setupLogger(path string) error {
	cfg := logger.EnvironmentConfig()
	if path != "" {
		var err error
		if cfg, err = logger.LoadConfigFromFile(path); err != nil {
			return err
		}
	}
	l, err := logger.CreateLoggerFromConfig(cfg)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(l)
	return nil
}

func newFlagSet(name, usage string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: qrplay %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("resolve", "[-origin url] <url>", stderr)
	origin := fs.String("origin", "", "Page origin added to the embed URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	ref := qrplay.Resolve(fs.Arg(0))
	embedURL, ok := embed.BuildURL(ref, *origin)
	if !ok {
		fmt.Fprintf(stderr, "Unrecognized link: %s\n", fs.Arg(0))
		return 1
	}
	fmt.Fprintf(stdout, "%s %s %s\n", ref.Service(), ref.VideoID(), embedURL)
	return 0
}

func runEmbed(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("embed", "[-origin url] <url>", stderr)
	origin := fs.String("origin", "", "Page origin added to the embed URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	embedURL, err := qrplay.EmbedURL(fs.Arg(0), *origin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, embedURL)
	return 0
}
