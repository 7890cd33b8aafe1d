package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/relaychat/pkg/datastore"
	"github.com/NicolasHaas/relaychat/pkg/logging"
	"github.com/NicolasHaas/relaychat/pkg/model"
	"github.com/NicolasHaas/relaychat/pkg/server"
	"github.com/NicolasHaas/relaychat/pkg/version"
)

func main() {
	// Flags are bound to a scratch config; only the ones given on the command
	// line are copied over the file and environment values.
	var flags server.Config
	defaults := server.DefaultConfig()

	configFile := flag.String("config", "", "YAML config file")
	flag.StringVar(&flags.ListenAddr, "listen", defaults.ListenAddr, "TCP bind address for chat clients")
	flag.StringVar(&flags.MetricsAddr, "metrics", defaults.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&flags.DBPath, "db", defaults.DBPath, "SQLite presence log path (empty to disable)")
	flag.IntVar(&flags.SendQueueSize, "queue", defaults.SendQueueSize, "Outbound frames buffered per client")
	flag.BoolVar(&flags.ChatEcho, "echo", defaults.ChatEcho, "Deliver chat messages back to their sender")

	exportPresence := flag.Bool("export-presence", false, "Export the presence log as YAML and exit")
	onlineOnly := flag.Bool("online-only", false, "With -export-presence: only sessions without a recorded disconnect")
	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile, flags)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	if *printConfig {
		data, err := server.MarshalConfigYAML(cfg)
		if err != nil {
			slog.Error("print config", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	// Handle export command (run and exit)
	if *exportPresence {
		if cfg.DBPath == "" {
			slog.Error("export presence: no database configured (-db)")
			os.Exit(1)
		}
		st, err := datastore.Open(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		data, err := server.ExportPresenceYAML(context.Background(), st, model.PresenceFilters{OnlineOnly: *onlineOnly})
		_ = st.Close()
		if err != nil {
			slog.Error("export presence", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	var deps server.Dependencies
	if cfg.DBPath != "" {
		st, err := datastore.Open(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		deps.Presence = st
	}

	srv := server.New(cfg, deps)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional YAML file, RELAYCHAT_* environment
// variables and finally the flags set on the command line.
func loadConfig(path string, flags server.Config) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path != "" {
		if err := server.LoadConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := server.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = flags.ListenAddr
		case "metrics":
			cfg.MetricsAddr = flags.MetricsAddr
		case "db":
			cfg.DBPath = flags.DBPath
		case "queue":
			cfg.SendQueueSize = flags.SendQueueSize
		case "echo":
			cfg.ChatEcho = flags.ChatEcho
		}
	})

	return cfg, cfg.Validate()
}
