// Command mrial-client connects to a mrial server, completes the
// handshake, and prints each reassembled frame's type and size — a
// minimal smoke-test client; a real viewer would feed NAL frames to a
// decoder instead.
package main

import (
	"flag"
	"os"

	charmlog "github.com/charmbracelet/log"

	"github.com/mahitmehta/mrial/client"
	"github.com/mahitmehta/mrial/config"
)

func main() {
	configPath := flag.String("config", "mrial-client.toml", "path to client config")
	width := flag.Int("width", 1920, "requested display width")
	height := flag.Int("height", 1080, "requested display height")
	flag.Parse()

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "main"})

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Warn("failed to load config, using defaults", "err", err)
		cfg = config.DefaultClient()
	}

	c, err := client.Dial(cfg)
	if err != nil {
		log.Fatal("failed to dial server", "err", err)
	}
	defer c.Close()

	if err := c.Connect(uint16(*width), uint16(*height)); err != nil {
		log.Fatal("handshake failed", "err", err)
	}
	log.Info("connected", "server", cfg.ServerAddr)

	stop := make(chan struct{})
	go c.PingLoop(stop)
	defer close(stop)

	go func() {
		if err := c.Run(); err != nil {
			log.Warn("receive loop stopped", "err", err)
		}
	}()

	for frame := range c.Frames {
		log.Info("frame received", "type", frame.Type, "bytes", len(frame.Data))
	}
}
