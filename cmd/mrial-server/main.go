// Command mrial-server runs a standalone mrial server: it binds a UDP
// socket, authenticates peers, and streams sealed video/audio frames to
// everyone currently connected.
package main

import (
	"flag"
	"os"

	charmlog "github.com/charmbracelet/log"

	"github.com/mahitmehta/mrial/config"
	"github.com/mahitmehta/mrial/metrics"
	"github.com/mahitmehta/mrial/server"
	"github.com/mahitmehta/mrial/websink"
)

func main() {
	configPath := flag.String("config", "mrial-server.toml", "path to server config")
	flag.Parse()

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "main"})

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Warn("failed to load config, using defaults", "err", err)
		cfg = config.DefaultServer()
	}

	web := websink.NewHub()

	srv, err := server.New(cfg, web)
	if err != nil {
		log.Fatal("failed to start server", "err", err)
	}
	log.Info("listening", "addr", srv.Addr())

	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			log.Warn("metrics server stopped", "err", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Fatal("server stopped", "err", err)
	}
}
