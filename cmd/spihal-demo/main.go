// Command spihal-demo walks the SPI HAL through its paces against a
// runtime-selected backend: basic send/receive/transfer, runtime
// reconfiguration and driving multiple devices side by side.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"spihal/backend/sim"
	"spihal/backend/socket"
	"spihal/backend/stub"
	"spihal/config"
	"spihal/hal"
	"spihal/logging"
)

// platformBackends is extended by build-tagged files (e.g. the
// Raspberry Pi backend on Linux).
var platformBackends = map[string]func(*config.Config) hal.Ops{}

func newBackend(name string, cfg *config.Config) (hal.Ops, error) {
	switch name {
	case "sim":
		return sim.New(), nil
	case "stub":
		return stub.New(), nil
	case "socket":
		opts := socket.Options{
			Host:       cfg.Socket.Host,
			Port:       cfg.Socket.Port,
			Retries:    cfg.Socket.ConnectRetries,
			RetryDelay: cfg.Socket.RetryDelay(),
		}
		if cfg.Serial.Device != "" {
			// Reach the harness over a serial link instead of TCP.
			opts.Dial = socket.SerialDialer(cfg.Serial.Device, cfg.Serial.Baud)
		}
		return socket.New(opts), nil
	}
	if mk, ok := platformBackends[name]; ok {
		return mk(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

func main() {
	var (
		backendName = flag.String("backend", "sim", "backend to register: sim, stub, socket"+platformBackendNames())
		configPath  = flag.String("config", "", "path to YAML configuration file")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	ops, err := newBackend(*backendName, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bridge := hal.NewBridge()
	if err := bridge.Register(ops); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("SPI HAL initialized with %s implementation\n\n", *backendName)

	timeout := cfg.Socket.Timeout()
	basicExample(bridge, timeout)
	reconfigureExample(bridge, timeout)
	multiDeviceExample(bridge, timeout)
}

func platformBackendNames() string {
	s := ""
	for name := range platformBackends {
		s += ", " + name
	}
	return s
}

func basicExample(bridge *hal.Bridge, timeout time.Duration) {
	fmt.Println("=== Basic SPI example ===")
	const dev = hal.DeviceID(0)

	cfg := hal.Config{
		Baudrate: 1000000,
		Mode:     hal.Mode0,
		BitOrder: hal.MSBFirst,
		DataBits: 8,
	}
	if err := bridge.Init(dev, cfg); err != nil {
		fmt.Printf("init device %d: %v\n", dev, err)
		return
	}
	fmt.Printf("device %d initialized (1 MHz, mode 0, 8-bit)\n", dev)

	tx := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if err := bridge.Send(dev, tx, timeout); err != nil {
		fmt.Printf("send: %v\n", err)
	} else {
		fmt.Printf("sent % X\n", tx)
	}

	rx := make([]byte, 5)
	if err := bridge.Receive(dev, rx, timeout); err != nil {
		fmt.Printf("receive: %v\n", err)
	} else {
		fmt.Printf("received % X\n", rx)
	}

	txf := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	rxf := make([]byte, len(txf))
	if err := bridge.Transfer(dev, txf, rxf, timeout); err != nil {
		fmt.Printf("transfer: %v\n", err)
	} else {
		fmt.Printf("transfer complete\n  tx % X\n  rx % X\n", txf, rxf)
	}

	if st, err := bridge.Status(dev); err == nil {
		fmt.Printf("status: state=%s tx=%d rx=%d errors=%d busy=%t\n",
			st.State, st.TxCount, st.RxCount, st.ErrorCount, st.Busy)
	}

	bridge.Deinit(dev)
	fmt.Printf("device %d deinitialized\n\n", dev)
}

func reconfigureExample(bridge *hal.Bridge, timeout time.Duration) {
	fmt.Println("=== Runtime reconfiguration example ===")
	const dev = hal.DeviceID(1)

	cfg := hal.Config{Baudrate: 500000, Mode: hal.Mode0, BitOrder: hal.MSBFirst, DataBits: 8}
	if err := bridge.Init(dev, cfg); err != nil {
		fmt.Printf("init device %d: %v\n", dev, err)
		return
	}
	fmt.Println("initial config: 500 kHz, mode 0")

	data := []byte{0x11, 0x22, 0x33}
	bridge.Send(dev, data, timeout)

	cfg.Baudrate = 2000000
	cfg.Mode = hal.Mode3
	if err := bridge.SetConfig(dev, cfg); err != nil {
		fmt.Printf("set config: %v\n", err)
	} else {
		fmt.Println("reconfigured: 2 MHz, mode 3")
	}
	bridge.Send(dev, data, timeout)

	bridge.Deinit(dev)
	fmt.Println()
}

func multiDeviceExample(bridge *hal.Bridge, timeout time.Duration) {
	fmt.Println("=== Multiple devices example ===")

	sensorCfg := hal.Config{Baudrate: 1000000, Mode: hal.Mode0, BitOrder: hal.MSBFirst, DataBits: 8}
	displayCfg := hal.Config{Baudrate: 10000000, Mode: hal.Mode2, BitOrder: hal.MSBFirst, DataBits: 8}

	if err := bridge.Init(0, sensorCfg); err != nil {
		fmt.Printf("init sensor: %v\n", err)
		return
	}
	if err := bridge.Init(1, displayCfg); err != nil {
		fmt.Printf("init display: %v\n", err)
		bridge.Deinit(0)
		return
	}
	fmt.Println("device 0 (sensor): 1 MHz, mode 0")
	fmt.Println("device 1 (display): 10 MHz, mode 2")

	cmd := []byte{0x80, 0x00}
	reply := make([]byte, 2)
	if err := bridge.Transfer(0, cmd, reply, timeout); err != nil {
		fmt.Printf("sensor read: %v\n", err)
	} else {
		fmt.Printf("sensor read: % X\n", reply)
	}

	pattern := []byte{0xFF, 0x00, 0xFF, 0x00}
	if err := bridge.Send(1, pattern, timeout); err != nil {
		fmt.Printf("display update: %v\n", err)
	} else {
		fmt.Println("display updated")
	}

	bridge.Deinit(0)
	bridge.Deinit(1)
}
