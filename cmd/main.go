package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/medicus/internal/models"
	cfgPkg "github.com/xhad/medicus/pkg/config"
	"github.com/xhad/medicus/pkg/query"
	"github.com/xhad/medicus/server"
)

type Options struct {
	ConfigPath string
	ListingID  string
	Name       string
	Serve      bool
	Debug      bool
	Files      []string
}

func main() {
	_ = godotenv.Load()

	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Options {
	var opts Options

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.ListingID, "listing", "", "Listing to ingest into and chat about")
	flag.StringVar(&opts.Name, "name", "", "Create a listing with this name")
	flag.BoolVar(&opts.Serve, "serve", false, "Run the HTTP and WebSocket server")
	flag.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [file.pdf ...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.Files = flag.Args()

	return opts
}

func newLogger(opts Options) *slog.Logger {
	level := slog.LevelWarn
	if opts.Serve {
		level = slog.LevelInfo
	}
	if opts.Debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.Serve {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(ctx context.Context, opts Options) error {
	config, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	logger := newLogger(opts)
	slog.SetDefault(logger)

	var bar *progressbar.ProgressBar
	onFile := func(filename string, err error) {
		if bar == nil {
			return
		}
		if err != nil {
			bar.Describe(color.RedString("✗ %s", filename))
		} else {
			bar.Describe(color.BlueString("📄 %s", filename))
		}
		bar.Add(1)
	}

	c, coordinator, err := build(ctx, config, logger, onFile)
	if err != nil {
		return err
	}
	defer c.store.Close()

	if opts.Serve {
		srv, err := server.New(server.Dependencies{
			Ingest:    coordinator,
			Query:     c.query,
			Documents: c.store,
			Listings:  c.store,
			Health:    c.health,
		}, server.Config{
			MaxUploadMB: config.Server.MaxUploadMB,
			UploadsPath: config.Server.UploadsPath,
			UploadsDir:  c.uploadsDir,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, config.Server.Addr)
	}

	listingID := models.ListingID(opts.ListingID)
	if opts.Name != "" {
		listing, err := c.store.CreateListing(ctx, opts.Name)
		if err != nil {
			return fmt.Errorf("failed to create listing: %w", err)
		}
		listingID = listing.ID
		color.Green("✓ Created listing %q with id %s", listing.Name, listing.ID)
	}
	if listingID == "" {
		flag.Usage()
		return fmt.Errorf("either -listing, -name or -serve is required")
	}

	if len(opts.Files) > 0 {
		files, err := readFiles(opts.Files)
		if err != nil {
			return err
		}

		color.Blue("\nIngesting %d files into listing %s\n", len(files), listingID)
		bar = getProgressBar(len(coordinator.Eligible(files)), "📄 Extracting...")
		result, err := coordinator.Ingest(ctx, listingID, files)
		bar.Finish()
		if err != nil {
			return err
		}

		color.Green("\n✓ Processed %d documents\n", result.Processed)
		for _, f := range result.Failures {
			color.Red("✗ %s: %s failed: %v\n", f.Filename, f.Kind, f.Err)
		}
	}

	return chat(ctx, c.query, listingID)
}

func readFiles(paths []string) ([]models.FilePayload, error) {
	files := make([]models.FilePayload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, models.FilePayload{Filename: filepath.Base(p), Data: data})
	}
	return files, nil
}

func chat(ctx context.Context, svc *query.Service, listingID models.ListingID) error {
	color.Cyan("\nAsk about listing %s (type 'exit' to quit)", listingID)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := scanner.Text()
		if strings.ToLower(strings.TrimSpace(question)) == "exit" {
			break
		}
		if strings.TrimSpace(question) == "" {
			continue
		}

		spinner := getSpinner("🔍 Searching documents...")
		answer, err := svc.Ask(ctx, listingID, question)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		assistantPrompt("Assistant: %s\n", answer.Text)
		if answer.Source == query.SourceFallback {
			color.Yellow("(no matching passages in the documents, general %s answer)\n", answer.Category)
		}
	}

	return scanner.Err()
}
