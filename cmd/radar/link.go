package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/ultrasonic.radar/internal/config"
	"github.com/banshee-data/ultrasonic.radar/internal/serialmux"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
	"github.com/banshee-data/ultrasonic.radar/internal/telemetry"
)

type mode int

const (
	modeSerial mode = iota
	modeSynthetic
	modeMQTT
	modeDisabled
)

func (m mode) String() string {
	switch m {
	case modeSynthetic:
		return "synthetic"
	case modeMQTT:
		return "mqtt"
	case modeDisabled:
		return "disabled"
	default:
		return "serial"
	}
}

var errNoSerialPort = errors.New("no serial port configured: set --port, --dev, --mqtt-broker or --disable-serial")

// link bundles what the rest of main needs from the telemetry transport. mux
// is never nil so the admin routes and monitor loop can be wired
// unconditionally; source and sender are nil when the link is disabled.
type link struct {
	mode   mode
	mux    serialmux.SerialMuxInterface
	source telemetry.Source
	sender settings.Sender
}

// setFlags reports which flags were given explicitly on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// loadConfig reads the config file at path, if any, and lets explicitly set
// flags override it.
func loadConfig(path string, set map[string]bool) (*config.RadarConfig, error) {
	cfg := config.EmptyConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if set["listen"] {
		cfg.Listen = listen
	}
	if set["port"] {
		cfg.SerialPort = port
	}
	if set["baud"] {
		cfg.BaudRate = baudRate
	}
	if set["frame-size"] {
		cfg.FrameSize = frameSize
	}
	if set["angle-encoding"] {
		cfg.AngleEncoding = angleEncoding
	}
	if set["mqtt-broker"] {
		cfg.MQTTBroker = mqttBroker
	}
	if set["mqtt-telemetry-topic"] {
		cfg.MQTTTelemetryTopic = mqttTelemetry
	}
	if set["mqtt-settings-topic"] {
		cfg.MQTTSettingsTopic = mqttSettings
	}
	if set["filter-out-of-range"] {
		cfg.FilterOutOfRange = filterOutOfRange
	}
	if set["synthetic-step"] {
		cfg.SyntheticStepDeg = syntheticStep
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// linkMode picks the telemetry transport. --dev and --disable-serial win over
// anything configured.
func linkMode(cfg *config.RadarConfig) mode {
	switch {
	case *devMode:
		return modeSynthetic
	case *disableSerial:
		return modeDisabled
	case cfg.GetMQTTBroker() != "":
		return modeMQTT
	default:
		return modeSerial
	}
}

// openLink builds the transport for m. Serial ports are opened through
// factory so tests can substitute a mock.
func openLink(cfg *config.RadarConfig, m mode, factory serialmux.SerialPortFactory) (*link, error) {
	enc, err := telemetry.ParseAngleEncoding(cfg.GetAngleEncoding())
	if err != nil {
		return nil, err
	}
	decoder := telemetry.Decoder{Angle: enc}

	switch m {
	case modeSynthetic:
		log.Printf("dev mode: using synthetic sweep generator")
		src := telemetry.NewSyntheticSource(telemetry.SyntheticConfig{
			ArcMin:   cfg.GetArcMinDeg(),
			ArcMax:   cfg.GetArcMaxDeg(),
			Step:     cfg.GetSyntheticStepDeg(),
			Interval: cfg.GetRenderInterval(),
		})
		return &link{mode: m, mux: serialmux.NewDisabledSerialMux(), source: src, sender: src}, nil

	case modeMQTT:
		src := telemetry.NewMQTTSource(telemetry.MQTTConfig{
			Broker:         cfg.GetMQTTBroker(),
			TelemetryTopic: cfg.GetMQTTTelemetryTopic(),
			SettingsTopic:  cfg.GetMQTTSettingsTopic(),
		}, decoder)
		log.Printf("reading telemetry from MQTT broker %s topic %s", cfg.GetMQTTBroker(), cfg.GetMQTTTelemetryTopic())
		return &link{mode: m, mux: serialmux.NewDisabledSerialMux(), source: src, sender: src}, nil

	case modeDisabled:
		log.Printf("telemetry link disabled")
		return &link{mode: m, mux: serialmux.NewDisabledSerialMux()}, nil
	}

	path := cfg.GetSerialPort()
	if path == "" {
		return nil, errNoSerialPort
	}
	mux, err := serialmux.OpenSerialMux(factory, path, serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}, cfg.GetFrameSize())
	if err != nil {
		return nil, err
	}
	log.Printf("reading %d byte telemetry frames from %s at %d baud", cfg.GetFrameSize(), path, cfg.GetBaudRate())
	src := telemetry.NewSerialSource(mux, decoder)
	return &link{mode: m, mux: mux, source: src, sender: src}, nil
}
