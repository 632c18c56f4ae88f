// Command usb-charger detects the USB port type on attach, programs and
// runs the charging engine, and publishes charger notifications to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
	"github.com/sweeney/usb-charger/internal/gpio"
	"github.com/sweeney/usb-charger/internal/mqtt"
	"github.com/sweeney/usb-charger/internal/pmic"
	"github.com/sweeney/usb-charger/internal/status"
	"github.com/sweeney/usb-charger/internal/udc"
	"github.com/sweeney/usb-charger/internal/web"
)

// statusRefresh is how often the tracker copies the coordinator snapshot.
const statusRefresh = time.Second

type options struct {
	i2cBus   string
	i2cAddr  uint
	chip     string
	pins     gpio.Pins
	udcName  string
	udcPoll  time.Duration
	tick     time.Duration
	hwDetect bool
	profile  string

	oscCheck     bool
	oscWindow    time.Duration
	oscThreshold int

	broker     string
	clientID   string
	heartbeat  time.Duration
	httpAddr   string
	printState bool
}

func main() {
	var o options
	flag.StringVar(&o.i2cBus, "i2c", "", `I2C bus name ("" selects the first bus)`)
	flag.UintVar(&o.i2cAddr, "i2c-addr", pmic.AddressDefault, "I2C address of the charger")
	flag.StringVar(&o.chip, "gpio-chip", gpio.DefaultChip, "GPIO chip for the interrupt lines")
	flag.IntVar(&o.pins.VBUS, "pin-vbus", gpio.DefaultPins.VBUS, "BCM pin for VBUS sense")
	flag.IntVar(&o.pins.ChargerOK, "pin-chg-ok", gpio.DefaultPins.ChargerOK, "BCM pin for the charger state IRQ")
	flag.IntVar(&o.pins.ChargerError, "pin-chg-err", gpio.DefaultPins.ChargerError, "BCM pin for the charger error IRQ")
	flag.IntVar(&o.pins.Detection, "pin-chg-det", gpio.DefaultPins.Detection, "BCM pin for the port detection IRQ")
	flag.StringVar(&o.udcName, "udc", "", `USB device controller name ("" discovers, "off" disables)`)
	flag.DurationVar(&o.udcPoll, "udc-poll", udc.DefaultPollInterval, "USB device controller polling interval")
	flag.DurationVar(&o.tick, "tick", charger.DefaultTickPeriod, "Software detection tick period")
	flag.BoolVar(&o.hwDetect, "hw-detect", false, "Use the hardware port detection FSM")
	flag.StringVar(&o.profile, "profile", "", "JSON charging profile (empty for the built-in default)")
	flag.BoolVar(&o.oscCheck, "osc-check", true, "Stop charging when pre-charge/CC oscillation is detected")
	flag.DurationVar(&o.oscWindow, "osc-window", charger.DefaultOscillationWindow, "Oscillation counting window")
	flag.IntVar(&o.oscThreshold, "osc-threshold", charger.DefaultOscillationThreshold, "State transitions per window above which charging stops")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.clientID, "client-id", "usb-charger", "MQTT client ID")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.BoolVar(&o.printState, "print-state", false, "Print charger state and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	profile, err := loadProfile(o.profile)
	if err != nil {
		return err
	}

	bus, err := pmic.OpenPeriph(o.i2cBus)
	if err != nil {
		return fmt.Errorf("init i2c: %w", err)
	}
	defer bus.Close()
	dev := pmic.New(bus, uint16(o.i2cAddr))

	if o.printState {
		return printState(os.Stdout, dev)
	}

	publisher, err := mqtt.NewRealPublisher(o.broker, o.clientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// USB stack. Without a controller the port is still classified but
	// never released for enumeration.
	var usb charger.USB
	var monitor *udc.Monitor
	udcName, err := resolveUDC(o.udcName, udc.DefaultRoot)
	if err != nil {
		log.Printf("udc: %v, enumeration disabled", err)
	} else if udcName != "" {
		usb = &udc.Controller{Name: udcName}
		monitor = &udc.Monitor{Name: udcName, Interval: o.udcPoll}
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		I2CBus:       bus.String(),
		UDC:          udcName,
		TickMs:       o.tick.Milliseconds(),
		HWDetect:     o.hwDetect,
		OscCheck:     o.oscCheck,
		OscWindowMs:  o.oscWindow.Milliseconds(),
		OscThreshold: o.oscThreshold,
		HeartbeatMs:  o.heartbeat.Milliseconds(),
		ProfileCCmA:  int(profile.CC),
		ProfileCVmV:  int(profile.CV),
		Broker:       o.broker,
		HTTPPort:     o.httpAddr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Hooks fire only once the coordinator runs, so the snapshot closure
	// never sees a nil coordinator.
	var coord *charger.Coordinator
	notifier := mqtt.NewNotifier(publisher, func() charger.Snapshot { return coord.Snapshot() })
	notifier.OnNotify(tracker.Notify)

	deps := charger.Deps{
		Engine:   dev,
		Detector: dev,
		USB:      usb,
		Profile:  profile,
		Hooks:    notifier.Hooks(),
	}
	if o.hwDetect {
		deps.FSM = dev
	}
	coord, err = charger.New(charger.Config{
		TickPeriod:           o.tick,
		OscillationCheck:     o.oscCheck,
		OscillationWindow:    o.oscWindow,
		OscillationThreshold: o.oscThreshold,
	}, deps)
	if err != nil {
		return err
	}
	if monitor != nil {
		monitor.Events = coord
	}

	lines, vbus, err := requestLines(o, dev, coord)
	if err != nil {
		return err
	}

	// Publish startup event with full status snapshot
	tracker.Update(coord.Snapshot())
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		coord.Run(ctx)
	}()
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		notifier.Run(ctx)
	}()
	if monitor != nil {
		go monitor.Run(ctx)
	}

	// A cable already present at boot produces no edge.
	if present, err := gpio.High(vbus); err != nil {
		log.Printf("read vbus: %v", err)
	} else if present {
		log.Printf("vbus present at startup")
		coord.Attach()
	}

	log.Printf("started: i2c=%s udc=%q tick=%v hw-detect=%v osc-check=%v broker=%s heartbeat=%v",
		bus, udcName, o.tick, o.hwDetect, o.oscCheck, o.broker, o.heartbeat)

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		hb := time.NewTicker(o.heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}
	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoop(coord, publisher, publisher, tracker, time.Now, refresh.C, heartbeat, sigCh)

	// Close the interrupt lines first so no relay fires into a stopping
	// coordinator, then let it tear the engine down.
	if cerr := lines.Close(); cerr != nil {
		log.Printf("close gpio: %v", cerr)
	}
	cancel()
	<-coordDone
	<-notifyDone
	return err
}

// snapshotter is the part of the coordinator the main loop reads.
type snapshotter interface {
	Snapshot() charger.Snapshot
}

func runLoop(coord snapshotter, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	update := func() {
		tracker.Update(coord.Snapshot())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := signalName(s)
			update()
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-refresh:
			update()

		case <-heartbeat:
			update()
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			snap := tracker.Snapshot()
			c := snap.Charger
			log.Printf("heartbeat: uptime=%v attached=%v class=%v charging=%v attaches=%d oscillations=%d",
				snap.Uptime().Truncate(time.Second), c.Attached, c.Class, c.Charging, c.AttachCycles, c.Oscillations)

			hbEvent := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// requestLines claims the four interrupt lines and routes their edges to
// the coordinator. It returns the VBUS line separately so its level can
// be sampled at startup.
func requestLines(o options, dev *pmic.Device, coord *charger.Coordinator) (gpio.Lines, gpio.Line, error) {
	service := func(name string, fn func() error) func() {
		return func() {
			if err := fn(); err != nil {
				log.Printf("%s irq: %v", name, err)
			}
		}
	}
	detect := coord.ChargeEvent
	if o.hwDetect {
		detect = service("detection", dev.ServiceDetectionIRQ)
	}

	specs := []struct {
		name   string
		pin    int
		pullUp bool
		h      gpio.Handler
	}{
		{"vbus", o.pins.VBUS, false, gpio.VBUS(coord.Attach, coord.Detach)},
		{"charger ok", o.pins.ChargerOK, true, gpio.ActiveLow(service("ok", dev.ServiceOKIRQ))},
		{"charger error", o.pins.ChargerError, true, gpio.ActiveLow(service("error", dev.ServiceErrorIRQ))},
		{"detection", o.pins.Detection, true, gpio.ActiveLow(detect)},
	}

	var lines gpio.Lines
	for _, s := range specs {
		l, err := gpio.RequestLine(o.chip, s.pin, s.pullUp, s.h)
		if err != nil {
			lines.Close()
			return nil, nil, fmt.Errorf("init gpio %s (pin %d): %w", s.name, s.pin, err)
		}
		lines = append(lines, l)
	}
	return lines, lines[0], nil
}

// loadProfile reads a JSON profile, or returns the default when path is empty.
func loadProfile(path string) (*pmic.Profile, error) {
	if path == "" {
		return pmic.DefaultProfile(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()
	p, err := pmic.LoadProfile(f)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// resolveUDC turns the -udc flag into a controller name. "off" disables
// the USB stack and "" picks the first controller under root.
func resolveUDC(name, root string) (string, error) {
	switch name {
	case "off":
		return "", nil
	case "":
		return udc.Discover(root)
	}
	if _, err := os.Stat(filepath.Join(root, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("controller %q not found", name)
		}
		return "", err
	}
	return name, nil
}

// printState prints one sample of the charging engine's registers.
func printState(w io.Writer, dev *pmic.Device) error {
	st, err := dev.MainState()
	if err != nil {
		return fmt.Errorf("read main state: %w", err)
	}
	region, err := dev.JEITARegion()
	if err != nil {
		return fmt.Errorf("read jeita region: %w", err)
	}
	low, err := dev.VBATUnderVoltage()
	if err != nil {
		return fmt.Errorf("read vbat: %w", err)
	}
	faults, err := dev.ErrorStatus()
	if err != nil {
		return fmt.Errorf("read faults: %w", err)
	}
	p, err := dev.Readback()
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	fmt.Fprintf(w, "State: %s, Region: %s, VBAT low: %v, Faults: %s\n", st, region, low, faults)
	fmt.Fprintf(w, "CC: %dmA, CV: %dmV\n", p.CC, p.CV)
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
