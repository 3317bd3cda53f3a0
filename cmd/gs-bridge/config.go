package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/project-steve/gs-bridge/internal/modem"
)

type appConfig struct {
	device          string
	baud            int
	listenNet       string
	listenAddr      string
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	outBuf          int
	eventBuf        int
	peer            string
	modemConnect    bool
	modemDisconnect bool
	enterSettle     time.Duration
	connectSettle   time.Duration
	exitSettle      time.Duration
	killSettle      time.Duration
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	configFile      string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	device := flag.String("device", "/dev/ttyPS2", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	listenNet := flag.String("listen-net", "unix", "Control listener network: unix|tcp")
	listenAddr := flag.String("listen", "/tmp/gs_bridge.sock", "Control listener address (socket path or host:port)")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json|console")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	outBuf := flag.Int("out-buffer", 64, "Per-client outbound queue (messages)")
	eventBuf := flag.Int("event-buffer", 64, "Core event queue (messages)")
	peer := flag.String("peer", modem.DefaultPeer, "Radio peer Bluetooth address (12 hex digits); empty uses the modem's stored address")
	modemConnect := flag.Bool("modem-connect", true, "Run the modem connect script when the first client attaches")
	modemDisconnect := flag.Bool("modem-disconnect", false, "Run the modem disconnect script at shutdown")
	enterSettle := flag.Duration("modem-enter-settle", modem.DefaultEnterSettle, "Settle delay after the command-mode escape")
	connectSettle := flag.Duration("modem-connect-settle", modem.DefaultConnectSettle, "Settle delay after the connect command")
	exitSettle := flag.Duration("modem-exit-settle", modem.DefaultExitSettle, "Settle delay after the command-mode exit")
	killSettle := flag.Duration("modem-kill-settle", modem.DefaultKillSettle, "Settle delay after the kill command")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement (TCP listener only)")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default gs-bridge-<hostname>)")
	configFile := flag.String("config", "", "Optional YAML config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env
	// and file values.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.device = *device
	cfg.baud = *baud
	cfg.listenNet = *listenNet
	cfg.listenAddr = *listenAddr
	cfg.serialReadTO = *serialReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.outBuf = *outBuf
	cfg.eventBuf = *eventBuf
	cfg.peer = *peer
	cfg.modemConnect = *modemConnect
	cfg.modemDisconnect = *modemDisconnect
	cfg.enterSettle = *enterSettle
	cfg.connectSettle = *connectSettle
	cfg.exitSettle = *exitSettle
	cfg.killSettle = *killSettle
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.configFile = *configFile

	// A bare positional argument names the device, unless -device was given.
	if _, ok := setFlags["device"]; !ok && flag.NArg() > 0 {
		cfg.device = flag.Arg(0)
		setFlags["device"] = struct{}{}
	}

	if cfg.configFile != "" {
		if err := applyConfigFile(cfg, cfg.configFile, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json", "console":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.listenNet {
	case "unix", "tcp":
	default:
		return fmt.Errorf("invalid listen-net: %s", c.listenNet)
	}
	if c.listenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.outBuf <= 0 {
		return fmt.Errorf("out-buffer must be > 0 (got %d)", c.outBuf)
	}
	if c.eventBuf <= 0 {
		return fmt.Errorf("event-buffer must be > 0 (got %d)", c.eventBuf)
	}
	if err := validatePeer(c.peer); err != nil {
		return err
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"modem-enter-settle", c.enterSettle},
		{"modem-connect-settle", c.connectSettle},
		{"modem-exit-settle", c.exitSettle},
		{"modem-kill-settle", c.killSettle},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	return nil
}

// validatePeer accepts the empty string (use the modem's stored address) or
// a 12-hex-digit Bluetooth address.
func validatePeer(p string) error {
	if p == "" {
		return nil
	}
	if len(p) != 12 {
		return fmt.Errorf("peer must be 12 hex digits (got %q)", p)
	}
	for _, r := range p {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return fmt.Errorf("peer must be 12 hex digits (got %q)", p)
		}
	}
	return nil
}

// duration lets YAML carry Go duration strings ("500ms", "1.5s").
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Value, err)
	}
	*d = duration(v)
	return nil
}

// fileConfig mirrors appConfig for the YAML file. Pointer fields distinguish
// "absent" from zero so file values only replace defaults.
type fileConfig struct {
	Device          *string   `yaml:"device"`
	Baud            *int      `yaml:"baud"`
	ListenNet       *string   `yaml:"listen_net"`
	ListenAddr      *string   `yaml:"listen"`
	SerialReadTO    *duration `yaml:"serial_read_timeout"`
	LogFormat       *string   `yaml:"log_format"`
	LogLevel        *string   `yaml:"log_level"`
	MetricsAddr     *string   `yaml:"metrics_addr"`
	OutBuf          *int      `yaml:"out_buffer"`
	EventBuf        *int      `yaml:"event_buffer"`
	Peer            *string   `yaml:"peer"`
	ModemConnect    *bool     `yaml:"modem_connect"`
	ModemDisconnect *bool     `yaml:"modem_disconnect"`
	EnterSettle     *duration `yaml:"modem_enter_settle"`
	ConnectSettle   *duration `yaml:"modem_connect_settle"`
	ExitSettle      *duration `yaml:"modem_exit_settle"`
	KillSettle      *duration `yaml:"modem_kill_settle"`
	LogMetricsEvery *duration `yaml:"log_metrics_interval"`
	MDNSEnable      *bool     `yaml:"mdns_enable"`
	MDNSName        *string   `yaml:"mdns_name"`
}

// applyConfigFile loads path and applies each present field unless the
// corresponding flag was set. Env overrides run afterwards, so precedence is
// flag > env > file > default.
func applyConfigFile(c *appConfig, path string, set map[string]struct{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	unset := func(name string) bool { _, ok := set[name]; return !ok }
	if fc.Device != nil && unset("device") {
		c.device = *fc.Device
	}
	if fc.Baud != nil && unset("baud") {
		c.baud = *fc.Baud
	}
	if fc.ListenNet != nil && unset("listen-net") {
		c.listenNet = *fc.ListenNet
	}
	if fc.ListenAddr != nil && unset("listen") {
		c.listenAddr = *fc.ListenAddr
	}
	if fc.SerialReadTO != nil && unset("serial-read-timeout") {
		c.serialReadTO = time.Duration(*fc.SerialReadTO)
	}
	if fc.LogFormat != nil && unset("log-format") {
		c.logFormat = *fc.LogFormat
	}
	if fc.LogLevel != nil && unset("log-level") {
		c.logLevel = *fc.LogLevel
	}
	if fc.MetricsAddr != nil && unset("metrics-addr") {
		c.metricsAddr = *fc.MetricsAddr
	}
	if fc.OutBuf != nil && unset("out-buffer") {
		c.outBuf = *fc.OutBuf
	}
	if fc.EventBuf != nil && unset("event-buffer") {
		c.eventBuf = *fc.EventBuf
	}
	if fc.Peer != nil && unset("peer") {
		c.peer = *fc.Peer
	}
	if fc.ModemConnect != nil && unset("modem-connect") {
		c.modemConnect = *fc.ModemConnect
	}
	if fc.ModemDisconnect != nil && unset("modem-disconnect") {
		c.modemDisconnect = *fc.ModemDisconnect
	}
	if fc.EnterSettle != nil && unset("modem-enter-settle") {
		c.enterSettle = time.Duration(*fc.EnterSettle)
	}
	if fc.ConnectSettle != nil && unset("modem-connect-settle") {
		c.connectSettle = time.Duration(*fc.ConnectSettle)
	}
	if fc.ExitSettle != nil && unset("modem-exit-settle") {
		c.exitSettle = time.Duration(*fc.ExitSettle)
	}
	if fc.KillSettle != nil && unset("modem-kill-settle") {
		c.killSettle = time.Duration(*fc.KillSettle)
	}
	if fc.LogMetricsEvery != nil && unset("log-metrics-interval") {
		c.logMetricsEvery = time.Duration(*fc.LogMetricsEvery)
	}
	if fc.MDNSEnable != nil && unset("mdns-enable") {
		c.mdnsEnable = *fc.MDNSEnable
	}
	if fc.MDNSName != nil && unset("mdns-name") {
		c.mdnsName = *fc.MDNSName
	}
	return nil
}

// applyEnvOverrides maps GS_BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations accept Go time.ParseDuration format. UART_DEV is honored as a
// legacy alias for the device.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["device"]; !ok {
		if v, ok := get("GS_BRIDGE_DEVICE"); ok && v != "" {
			c.device = v
		} else if v, ok := get("UART_DEV"); ok && v != "" {
			c.device = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("GS_BRIDGE_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid GS_BRIDGE_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["listen-net"]; !ok {
		if v, ok := get("GS_BRIDGE_LISTEN_NET"); ok && v != "" {
			c.listenNet = v
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("GS_BRIDGE_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["serial-read-timeout"]; !ok {
		if v, ok := get("GS_BRIDGE_SERIAL_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.serialReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid GS_BRIDGE_SERIAL_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("GS_BRIDGE_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("GS_BRIDGE_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("GS_BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["out-buffer"]; !ok {
		if v, ok := get("GS_BRIDGE_OUT_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.outBuf = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid GS_BRIDGE_OUT_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["event-buffer"]; !ok {
		if v, ok := get("GS_BRIDGE_EVENT_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.eventBuf = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid GS_BRIDGE_EVENT_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["peer"]; !ok {
		if v, ok := get("GS_BRIDGE_PEER"); ok {
			c.peer = v
		}
	}
	if _, ok := set["modem-connect"]; !ok {
		if v, ok := get("GS_BRIDGE_MODEM_CONNECT"); ok && v != "" {
			if b, ok := parseBool(v); ok {
				c.modemConnect = b
			}
		}
	}
	if _, ok := set["modem-disconnect"]; !ok {
		if v, ok := get("GS_BRIDGE_MODEM_DISCONNECT"); ok && v != "" {
			if b, ok := parseBool(v); ok {
				c.modemDisconnect = b
			}
		}
	}
	durEnv := func(flagName, envName string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(envName)
		if !ok || v == "" {
			return
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		} else if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName, err)
		}
	}
	durEnv("modem-enter-settle", "GS_BRIDGE_MODEM_ENTER_SETTLE", &c.enterSettle)
	durEnv("modem-connect-settle", "GS_BRIDGE_MODEM_CONNECT_SETTLE", &c.connectSettle)
	durEnv("modem-exit-settle", "GS_BRIDGE_MODEM_EXIT_SETTLE", &c.exitSettle)
	durEnv("modem-kill-settle", "GS_BRIDGE_MODEM_KILL_SETTLE", &c.killSettle)
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("GS_BRIDGE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid GS_BRIDGE_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("GS_BRIDGE_MDNS_ENABLE"); ok && v != "" {
			if b, ok := parseBool(v); ok {
				c.mdnsEnable = b
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("GS_BRIDGE_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

func parseBool(v string) (value, ok bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
