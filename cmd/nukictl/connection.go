package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/backkem/nukible/pkg/config"
	"github.com/backkem/nukible/pkg/nuki"
	"github.com/backkem/nukible/pkg/store"
	"github.com/backkem/nukible/pkg/transport"
)

// passwordEnv holds the gateway password when set.
const passwordEnv = "NUKIBLE_PASSWORD"

// getPassword retrieves the gateway password from the configuration, the
// environment, or an interactive prompt.
func (a *app) getPassword() (string, error) {
	if a.config.Transport.Password != "" {
		return a.config.Transport.Password, nil
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		// Not a terminal.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(line), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(pw), nil
}

// openStore opens the credential database.
func (a *app) openStore() (*store.BadgerStore, error) {
	return store.OpenBadger(store.BadgerConfig{
		Path:          a.config.Storage.Path,
		InMemory:      a.config.Storage.InMemory,
		LoggerFactory: a.logs,
	})
}

// openTransport builds the gateway transport. It describes the connection
// for display.
func (a *app) openTransport() (*transport.Gateway, string, error) {
	if err := a.config.Validate(); err != nil {
		return nil, "", err
	}
	t := a.config.Transport

	var (
		dial transport.LinkDialer
		info string
	)
	switch t.Kind {
	case config.TransportWebSocket:
		opts := transport.WebSocketOptions{
			Username:      t.Username,
			SkipSSLVerify: t.SkipSSLVerify,
		}
		if t.Username != "" {
			pw, err := a.getPassword()
			if err != nil {
				return nil, "", err
			}
			opts.Password = pw
		}
		url := t.URL
		dial = func(ctx context.Context) (transport.Link, error) {
			link, err := transport.DialWebSocket(ctx, url, opts)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
		info = "WebSocket: " + url
	case config.TransportSerial:
		port, baud := t.Serial.Port, t.Serial.Baud
		dial = func(context.Context) (transport.Link, error) {
			link, err := transport.OpenSerial(port, baud)
			if err != nil {
				return nil, err
			}
			return link, nil
		}
		info = fmt.Sprintf("Serial: %s @ %d baud", port, baud)
	}

	g, err := transport.NewGateway(transport.GatewayConfig{
		Dial:           dial,
		ConnectTimeout: a.config.Timeouts.Connect,
		LoggerFactory:  a.logs,
	})
	if err != nil {
		return nil, "", err
	}
	return g, info, nil
}

// session is an open client with its resources.
type session struct {
	client *nuki.Client
	store  *store.BadgerStore
	info   string
}

func (s *session) Close() error {
	return s.store.Close()
}

// openSession opens the store and transport and creates a client.
func (a *app) openSession() (*session, error) {
	if err := a.config.ValidateLock(); err != nil {
		return nil, err
	}
	t, info, err := a.openTransport()
	if err != nil {
		return nil, err
	}
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	cc, err := a.config.ClientConfig(t, s, a.logs)
	if err != nil {
		s.Close()
		return nil, err
	}
	client, err := nuki.NewClient(cc)
	if err != nil {
		s.Close()
		return nil, err
	}
	return &session{client: client, store: s, info: info}, nil
}

// run drives the client until handle returns done or an error, or ctx ends.
func (s *session) run(ctx context.Context, handle func(nuki.Event) (bool, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.client.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case ev := <-s.client.Events():
			finished, err := handle(ev)
			if err != nil || finished {
				return err
			}
		case err := <-done:
			done <- err
			return err
		}
	}
}
