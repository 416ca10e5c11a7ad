package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"eventdesk/internal/config"
	appLog "eventdesk/internal/log"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	baseURL    string
	listen     string
	logLevel   string
	args       []string
}

func main() {
	flags := parseFlags()
	if len(flags.args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.baseURL != "" {
		conf.BaseURL = flags.baseURL
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	conf.Normalize()
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Debug("effective config",
		"base_url", conf.BaseURL,
		"listen", conf.Listen,
		"http_timeout", conf.HTTPTimeout,
		"gc_time", conf.Cache.GCTime,
		"sweep", conf.Cache.Sweep,
		"refresh", conf.Cache.Refresh,
		"timezone", conf.Import.Timezone,
		"command", flags.args[0],
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a, err := newApp(conf, os.Stdout)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}
	if err := a.run(ctx, flags.args); err != nil {
		appLog.Error("command failed", err, "command", flags.args[0])
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./eventdesk.yaml", "Path to config file")
	flag.StringVar(&cfg.baseURL, "base-url", "", "Events backend URL (overrides config if set)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address for watch (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides config if set)")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [flags] <command> [args]\n\nCommands:\n", os.Args[0])
		for _, c := range commands {
			fmt.Fprintf(out, "  %-28s %s\n", c.usage, c.help)
		}
		fmt.Fprintln(out, "\nFlags:")
		flag.PrintDefaults()
	}

	flag.Parse()
	cfg.args = flag.Args()

	return cfg
}
