// Package main is the entry point for the midicv API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/james-see/midicv/pkg/api"
	"github.com/james-see/midicv/pkg/config"
	"github.com/james-see/midicv/pkg/converter"
)

func main() {
	configPath := flag.String("config", "", "Config file (default ~/.config/midicv/config.yaml)")
	port := flag.Int("port", 0, "Server port (default from config)")
	serial := flag.String("serial", "", "Serial port of the DAC bridge")
	in := flag.String("in", "", "MIDI input port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.APIPort = *port
	}
	if *serial != "" {
		cfg.DAC.SerialPort = *serial
	}
	if *in != "" {
		cfg.MIDI.InPort = *in
	}

	transport, err := converter.OpenTransport(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DAC error: %v\n", err)
		os.Exit(1)
	}
	c, err := converter.New(cfg, transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if cfg.MIDI.InPort != "" {
		go func() {
			if err := c.Listen(ctx, ""); err != nil {
				fmt.Fprintf(os.Stderr, "MIDI input: %v\n", err)
			}
		}()
	}

	fmt.Printf("Starting midicv API server on port %d...\n", cfg.APIPort)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.APIPort)

	if err := api.StartServer(cfg.APIPort, api.NewServer(c.Engine, c.Stacks, c.Router)); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
