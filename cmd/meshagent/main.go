package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"

	"meshgate/internal/logs"
	"meshgate/pkg/meshclient"
)

func main() {
	parser := argparse.NewParser("meshagent",
		"Connects this device to a meshgate gatekeeper and prints delivered messages")

	gatekeeperURL := parser.String("u", "url", &argparse.Options{
		Default: "http://localhost:8080",
		Help:    "Gatekeeper base URL",
	})
	name := parser.String("n", "name", &argparse.Options{
		Required: true,
		Help:     "Device name, unique on the mesh",
	})
	kind := parser.Selector("t", "type",
		[]string{"laptop", "desktop", "phone", "tablet", "server", "iot", "unknown"},
		&argparse.Options{
			Default: "unknown",
			Help:    "Device class",
		})
	registrationKey := parser.String("k", "registration-key", &argparse.Options{
		Help: "Registration key, if the gatekeeper requires one",
	})
	capabilities := parser.String("c", "capabilities", &argparse.Options{
		Help: "Comma-separated capability tags",
	})
	pollSeconds := parser.Int("p", "poll-interval", &argparse.Options{
		Default: 10,
		Help:    "Message poll interval in seconds",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	logs.Init(logs.Options{Level: "info", Format: "text"})
	log := logs.Component("meshagent")

	client, err := meshclient.NewClient(meshclient.Config{
		GatekeeperURL: *gatekeeperURL,
		Name:          *name,
		Kind:          *kind,
		Capabilities:  splitCapabilities(*capabilities),
	})
	if err != nil {
		log.Fatalf("bad configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if !client.Register(ctx, *registrationKey) {
		log.Fatal("registration failed")
	}
	defer client.Disconnect()

	log.Infof("polling every %ds (device %s stays pending until an admin approves it)",
		*pollSeconds, client.DeviceID())

	t := time.NewTicker(time.Duration(*pollSeconds) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-t.C:
			for _, m := range client.GetMessages(ctx) {
				log.Infof("message %s from %s (%s): %s", m.ID, m.From, m.Type, string(m.Payload))
			}
		}
	}
}

func splitCapabilities(s string) []string {
	if s == "" {
		return nil
	}
	var caps []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	return caps
}
