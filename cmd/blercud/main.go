//go:build linux

// Command blercud is the BLE remote-control-unit daemon entrypoint: it wires
// the config loader, the BlueZ D-Bus adapter, the raw HCI socket (event
// monitor plus connection-parameter enforcer), the Controller, the NATS
// event publisher, and the IR pairing-code reader into one running process.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/bluez"
	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/config"
	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/events"
	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/hci"
	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/irpairing"
)

func main() {
	configPath := flag.String("config", "/etc/blercud/config.json", "path to the daemon's JSON configuration file")
	adapterPath := flag.String("adapter", "/org/bluez/hci0", "BlueZ adapter D-Bus object path")
	hciDevID := flag.Int("hci-dev", 0, "HCI device id backing the adapter path above")
	maxManaged := flag.Int("max-managed", 1, "maximum number of simultaneously managed RCUs")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL for the event publisher")
	irPort := flag.String("ir-port", "", "serial port for the IR pairing-code reader (disabled if empty)")
	irBaud := flag.Int("ir-baud", 9600, "baud rate for the IR pairing-code reader")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}

	adapter, err := bluez.Open(*adapterPath, entry.WithField("component", "bluez"))
	if err != nil {
		entry.WithError(err).Fatal("failed to open bluez adapter")
	}
	defer adapter.Close()

	publisher, err := events.Connect(*natsURL, entry.WithField("component", "events"))
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to NATS")
	}
	defer publisher.Close()

	controller := blercu.NewController(adapter, cfg.Timeouts, cfg.Models, *maxManaged, publisher, entry.WithField("component", "controller"))

	hciJobs := make(chan func(), 64)
	hciDone := make(chan struct{})
	postHCI := func(fn func()) {
		select {
		case hciJobs <- fn:
		case <-hciDone:
		}
	}
	go runHCIJobLoop(hciJobs, hciDone)

	socket, err := hci.Open(*hciDevID)
	if err != nil {
		entry.WithError(err).Fatal("failed to open HCI socket")
	}
	defer socket.Close()

	enforcer := hci.NewConnParamEnforcer(socket, cfg.Timeouts, cfg.DesiredConnectionParams, entry.WithField("component", "enforcer"), postHCI)
	enforcer.Start(socket)

	monitor := hci.NewMonitor(socket, entry.WithField("component", "hci-monitor"), postHCI, func(ev hci.ParsedEvent) {
		switch {
		case ev.Disconnection != nil:
			enforcer.HandleDisconnectionComplete(*ev.Disconnection)
		case ev.ConnComplete != nil:
			enforcer.HandleConnectionComplete(*ev.ConnComplete)
		case ev.ConnUpdateComplete != nil:
			enforcer.HandleConnectionUpdateComplete(*ev.ConnUpdateComplete)
		}
	})
	go monitor.Run()
	defer monitor.Stop()
	defer enforcer.Shutdown()
	defer close(hciDone)

	if *irPort != "" {
		reader, err := irpairing.Open(*irPort, *irBaud, controller, entry.WithField("component", "irpairing"))
		if err != nil {
			entry.WithError(err).Error("failed to open IR pairing reader, continuing without it")
		} else {
			go reader.Run()
			defer reader.Stop()
		}
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	entry.Info("blercud started")
	controller.Run(stop)
	entry.Info("blercud stopped")
}

// runHCIJobLoop is the single-goroutine control thread the HCI monitor and
// connection-parameter enforcer post their work onto, separate from the
// Controller's own serialized loop since the enforcer's per-connection
// parameter bookkeeping has no dependency on pairing/scanning state.
func runHCIJobLoop(jobs <-chan func(), done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case fn := <-jobs:
			fn()
		}
	}
}
