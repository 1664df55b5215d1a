// Command embermqttd runs a standalone embermqtt broker: listeners come
// from command-line flags, auth and storage hooks from a YAML config file.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alvar-labs/embermqtt"
	"github.com/alvar-labs/embermqtt/hooks/auth"
	"github.com/alvar-labs/embermqtt/hooks/storage"
	"github.com/alvar-labs/embermqtt/hooks/storage/badger"
	"github.com/alvar-labs/embermqtt/hooks/storage/bolt"
	"github.com/alvar-labs/embermqtt/hooks/storage/pebble"
	"github.com/alvar-labs/embermqtt/hooks/storage/redis"
	"github.com/alvar-labs/embermqtt/listeners"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	tcpAddr := flag.String("tcp", ":1883", "TCP listener address")
	wsAddr := flag.String("ws", ":1882", "websocket listener address")
	statsAddr := flag.String("stats", ":8080", "HTTP stats listener address")
	flag.Parse()

	log := slog.Default()

	cfg, err := embermqtt.LoadConfig(*configPath)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}

	broker := embermqtt.New(embermqtt.Options{
		Capabilities: &cfg.Broker.Capabilities,
		Logger:       log,
	})

	if hook, err := buildAuthHook(cfg); err != nil {
		log.Error("build auth hook", "err", err)
		os.Exit(1)
	} else if hook != nil {
		broker.Hooks.Add(hook, nil)
	}

	if hook, err := buildStorageHook(cfg); err != nil {
		log.Error("build storage hook", "err", err)
		os.Exit(1)
	} else if hook != nil {
		broker.Hooks.Add(hook, nil)
	}

	broker.AddListener(listeners.NewTCP("tcp1", *tcpAddr))
	broker.AddListener(listeners.NewWebsocket("ws1", *wsAddr))
	broker.AddListener(listeners.NewHTTPStats("stats1", *statsAddr, func() any {
		return broker.Sys.Snapshot()
	}))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := broker.Serve(); err != nil {
			log.Error("broker stopped", "err", err)
		}
	}()
	log.Info("embermqttd started", "tcp", *tcpAddr, "ws", *wsAddr, "stats", *statsAddr)

	<-sigs
	log.Info("shutting down")
	broker.Close()
}

func buildAuthHook(cfg *embermqtt.Config) (embermqtt.Hook, error) {
	if cfg.Auth.Ledger != "" {
		ledger, err := auth.LoadLedger(cfg.Auth.Ledger)
		if err != nil {
			return nil, err
		}
		return auth.NewHook(ledger), nil
	}
	return &auth.AllowHook{}, nil
}

func buildStorageHook(cfg *embermqtt.Config) (embermqtt.Hook, error) {
	switch cfg.Storage.Driver {
	case "bolt":
		store, err := bolt.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return storage.NewHook(store), nil
	case "badger":
		store, err := badger.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return storage.NewHook(store), nil
	case "pebble":
		store, err := pebble.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return storage.NewHook(store), nil
	case "redis":
		store, err := redis.Open(cfg.Storage.Addr)
		if err != nil {
			return nil, err
		}
		return storage.NewHook(store), nil
	default:
		return nil, nil
	}
}
