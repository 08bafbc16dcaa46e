package main

import (
	"fmt"
	"io"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/nukible/pkg/config"
)

// app holds the global flags and the resolved configuration.
type app struct {
	configPath string
	verbose    bool

	// Overrides for the configuration file.
	lockAddress   string
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
	portName      string
	baudRate      int
	storagePath   string

	config *config.Config
	logs   logging.LoggerFactory
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "nukictl",
		Short: "Nuki Smart Lock client",
		Long: `nukictl pairs with Nuki Smart Locks and sends them encrypted commands.

The lock is reached through a BLE gateway:
  WebSocket: --url ws://host/path [--username user]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]

Settings may also come from a YAML file (--config). Flags override the file.

For WebSocket authentication, the password is read from the NUKIBLE_PASSWORD
environment variable, or prompted interactively if not set. There is no
--password flag so that credentials stay out of shell history.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			return a.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")
	f.StringVarP(&a.lockAddress, "lock", "l", "", "BLE address of the lock")
	f.StringVarP(&a.wsURL, "url", "u", "", "Gateway WebSocket URL (ws:// or wss://)")
	f.StringVar(&a.wsUsername, "username", "", "Username for HTTP Basic auth")
	f.BoolVar(&a.wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	f.StringVarP(&a.portName, "port", "p", "", "Gateway serial port")
	f.IntVarP(&a.baudRate, "baud", "b", 0, "Baud rate (serial only)")
	f.StringVar(&a.storagePath, "storage", "", "Credential database directory")

	root.AddCommand(
		newPairCmd(a),
		newRequestCmd(a),
		newSendCmd(a),
		newUnpairCmd(a),
		newDiscoverCmd(a),
		newDecodeErrorCmd(a),
		newSimulateCmd(a),
	)
	return root
}

// load reads the configuration file and applies flag overrides.
func (a *app) load(cmd *cobra.Command) error {
	c := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		c = loaded
	}

	if a.lockAddress != "" {
		c.Lock.Address = a.lockAddress
	}
	if a.wsURL != "" {
		c.Transport.Kind = config.TransportWebSocket
		c.Transport.URL = a.wsURL
	}
	if a.wsUsername != "" {
		c.Transport.Username = a.wsUsername
	}
	if a.wsNoSSLVerify {
		c.Transport.SkipSSLVerify = true
	}
	if a.portName != "" {
		c.Transport.Kind = config.TransportSerial
		c.Transport.Serial.Port = a.portName
	}
	if a.baudRate != 0 {
		c.Transport.Serial.Baud = a.baudRate
	}
	if a.storagePath != "" {
		c.Storage.Path = a.storagePath
	}
	if a.verbose {
		c.Log.Level = "debug"
	}

	lf, err := c.LoggerFactory(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.config = c
	a.logs = lf
	return nil
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
