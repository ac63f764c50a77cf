package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timetable/internal/account"
	"timetable/internal/config"
	"timetable/internal/ics"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/store"
	"timetable/internal/web"
)

const version = "1.0.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	compact    bool
	export     string
	from       string
	to         string
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		appLog.Error("failed to load .env", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		if conf == nil {
			os.Exit(1)
		}
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("timetable starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"base_path", conf.BasePath,
		"data_dir", conf.DataDir,
		"users_dir", conf.UsersDir,
		"timezone", conf.Timezone,
		"periods", len(conf.Periods),
		"csrf", conf.CSRF.Key != "",
	)

	timetables, err := store.New(conf.DataDir)
	if err != nil {
		appLog.Error("failed to open timetable store", err, "dir", conf.DataDir)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case flags.compact:
		os.Exit(runCompact(ctx, timetables))
	case flags.export != "":
		os.Exit(runExport(ctx, timetables, conf, flags))
	}

	users, err := account.New(conf.UsersDir, conf.BcryptCost)
	if err != nil {
		appLog.Error("failed to open user store", err, "dir", conf.UsersDir)
		os.Exit(1)
	}
	seeded, err := users.SeedAdmin(ctx, conf.Admin.Abbreviation, conf.Admin.Name, conf.Admin.Password)
	if err != nil {
		appLog.Error("failed to seed admin account", err)
	} else if seeded {
		appLog.Info("admin account created", "abbreviation", conf.Admin.Abbreviation)
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, timetables, users).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen+conf.BasePath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	}
	appLog.Info("timetable exiting")
}

// runCompact rewrites every stored record in compacted form.
func runCompact(ctx context.Context, timetables *store.FileStore) int {
	n, err := timetables.CompactAll(ctx)
	if err != nil {
		appLog.Error("compaction failed", err, "compacted", n)
		return 1
	}
	appLog.Info("compaction finished", "compacted", n)
	return 0
}

// runExport writes the iCalendar feed of one class to stdout.
func runExport(ctx context.Context, timetables *store.FileStore, conf *config.Config, flags flagConfig) int {
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
	}
	sch, err := timetables.FindByClassName(ctx, flags.export)
	if err != nil {
		appLog.Error("export: class not found", err, "class", flags.export)
		return 1
	}

	from := model.MondayOf(time.Now().In(loc))
	if flags.from != "" {
		if from, err = model.ParseDate(flags.from, loc); err != nil {
			appLog.Error("export: bad -from", err, "from", flags.from)
			return 2
		}
	}
	to := from.AddDate(0, 0, 27)
	if flags.to != "" {
		if to, err = model.ParseDate(flags.to, loc); err != nil {
			appLog.Error("export: bad -to", err, "to", flags.to)
			return 2
		}
	}

	data, err := ics.Export(sch, from, to, ics.Options{Periods: conf.Periods, Location: loc})
	if err != nil {
		appLog.Error("export failed", err, "class", sch.ClassName)
		return 1
	}
	if _, err := os.Stdout.Write(data); err != nil {
		appLog.Error("export: write stdout", err)
		return 1
	}
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	defaultConfig := os.Getenv(config.EnvConfigPath)
	if defaultConfig == "" {
		defaultConfig = "timetable.yaml"
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.compact, "compact", false, "Compact every stored timetable and exit")
	flag.StringVar(&cfg.export, "export", "", "Write the iCalendar feed of this class to stdout and exit")
	flag.StringVar(&cfg.from, "from", "", "First day of -export (YYYY-MM-DD, default: this Monday)")
	flag.StringVar(&cfg.to, "to", "", "Last day of -export (YYYY-MM-DD, default: four weeks)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	return cfg
}
