package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backkem/nukible/pkg/discovery"
	"github.com/backkem/nukible/pkg/locksim"
	"github.com/backkem/nukible/pkg/transport"
)

type simulateOptions struct {
	listen    string
	path      string
	username  string
	advertise bool
	instance  string
}

// simulator is a simulated lock behind a gateway server.
type simulator struct {
	pipe    *transport.Pipe
	lock    *locksim.Lock
	handler http.Handler
}

func (s *simulator) Close() error {
	return s.pipe.Close()
}

func (a *app) newSimulator(opts simulateOptions, password string) (*simulator, error) {
	pipe := transport.NewPipeWithConfig(transport.PipeConfig{
		AutoProcess:   true,
		LoggerFactory: a.logs,
	})
	lock, err := locksim.New(pipe.Peripheral(), locksim.Config{LoggerFactory: a.logs})
	if err != nil {
		pipe.Close()
		return nil, err
	}
	server, err := transport.NewGatewayServer(transport.GatewayServerConfig{
		Radio:         func() (transport.Transport, error) { return pipe.Central(), nil },
		Username:      opts.username,
		Password:      password,
		LoggerFactory: a.logs,
	})
	if err != nil {
		pipe.Close()
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(opts.path, server)
	return &simulator{pipe: pipe, lock: lock, handler: mux}, nil
}

func newSimulateCmd(a *app) *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated lock as a WebSocket gateway",
		Long: `Serve a simulated lock as a WebSocket gateway, for trying out pairing and
commands without hardware. The simulated lock is always in pairing mode.

With --auth-user, clients must authenticate; the password is read from
NUKIBLE_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if opts.username != "" {
				if password = os.Getenv(passwordEnv); password == "" {
					return errors.New(passwordEnv + " must be set when --auth-user is given")
				}
			}
			sim, err := a.newSimulator(opts, password)
			if err != nil {
				return err
			}
			defer sim.Close()

			ln, err := net.Listen("tcp", opts.listen)
			if err != nil {
				return err
			}
			port := ln.Addr().(*net.TCPAddr).Port

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if opts.advertise {
				adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
					Instance:      opts.instance,
					Port:          port,
					LoggerFactory: a.logs,
				})
				if err != nil {
					ln.Close()
					return err
				}
				if err := adv.Start(discovery.GatewayTXT{
					Path:         opts.path,
					AuthRequired: opts.username != "",
					Name:         "simulated lock",
				}); err != nil {
					ln.Close()
					return err
				}
				defer adv.Close()
				a.printf("Advertising %q\n", adv.Instance())
			}

			srv := &http.Server{Handler: sim.handler}
			go func() {
				<-ctx.Done()
				srv.Shutdown(context.Background())
			}()

			a.printf("Simulated lock %s\n", sim.lock.LockID())
			a.printf("Listening on ws://%s%s\n", ln.Addr(), opts.path)
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.listen, "listen", ":8733", "Listen address")
	f.StringVar(&opts.path, "path", "/ws", "WebSocket path")
	f.StringVar(&opts.username, "auth-user", "", "Require HTTP Basic auth with this user")
	f.BoolVar(&opts.advertise, "advertise", false, "Advertise the gateway via mDNS")
	f.StringVar(&opts.instance, "instance", "", "mDNS instance name (random when empty)")
	return cmd
}

