package transport

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// GatewayServerConfig configures a GatewayServer.
type GatewayServerConfig struct {
	// Radio returns the transport serving one gateway session. Required.
	Radio func() (Transport, error)

	// Username and Password enable HTTP Basic auth on the websocket
	// endpoint when both are set.
	Username string
	Password string

	// ConnectTimeout bounds the radio's Connect. Default: 10s
	ConnectTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// GatewayServer is the radio side of the gateway protocol. It answers the
// envelopes a Gateway sends by driving a local Transport.
type GatewayServer struct {
	config   GatewayServerConfig
	upgrader websocket.Upgrader
	busy     sync.Mutex

	log logging.LeveledLogger
}

// NewGatewayServer creates a gateway server.
func NewGatewayServer(config GatewayServerConfig) (*GatewayServer, error) {
	if config.Radio == nil {
		return nil, fmt.Errorf("transport: gateway radio is required")
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	s := &GatewayServer{config: config}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-gateway-server")
	}
	return s, nil
}

// ServeHTTP upgrades the request to a websocket and serves it.
func (s *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.config.Username != "" && s.config.Password != "" {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.config.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.config.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="nukible"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		}
		return
	}
	if err := s.Serve(r.Context(), NewWebSocketLink(conn)); err != nil && s.log != nil {
		s.log.Debugf("session from %s ended: %v", r.RemoteAddr, err)
	}
}

// Serve handles one gateway session on link until the link closes.
// Sessions are served one at a time.
func (s *GatewayServer) Serve(ctx context.Context, link Link) error {
	defer link.Close()

	s.busy.Lock()
	defer s.busy.Unlock()

	radio, err := s.config.Radio()
	if err != nil {
		return err
	}
	sess := &gatewaySession{server: s, link: link, radio: radio}
	defer sess.closeRadio()

	radio.OnDisconnect(func(reason error) {
		sess.reply(&Envelope{Op: OpDisconnect, Reason: reason.Error()})
	})

	for {
		msg, err := link.Receive()
		if err != nil {
			return err
		}
		env, err := UnmarshalEnvelope(msg)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("dropping client message: %v", err)
			}
			continue
		}
		if done := sess.handle(ctx, env); done {
			return nil
		}
	}
}

type gatewaySession struct {
	server *GatewayServer
	link   Link
	radio  Transport
}

// handle answers one request. It returns true when the client hung up.
func (g *gatewaySession) handle(ctx context.Context, env *Envelope) bool {
	log := g.server.log
	switch env.Op {
	case OpConnect:
		cctx, cancel := context.WithTimeout(ctx, g.server.config.ConnectTimeout)
		err := g.radio.Connect(cctx, env.Address)
		cancel()
		if err != nil {
			g.reply(&Envelope{Op: OpError, Reason: err.Error()})
			return false
		}
		if log != nil {
			log.Infof("radio connected to %s", env.Address)
		}
		g.reply(&Envelope{Op: OpConnected, Address: env.Address})
	case OpSubscribe:
		ch := env.Channel
		err := g.radio.Subscribe(ch, func(data []byte) {
			g.reply(&Envelope{Op: OpNotify, Channel: ch, Data: data})
		})
		if err != nil {
			g.reply(&Envelope{Op: OpError, Channel: ch, Reason: err.Error()})
			return false
		}
		g.reply(&Envelope{Op: OpSubscribed, Channel: ch})
	case OpWrite:
		if err := g.radio.Write(env.Channel, env.Data); err != nil {
			g.reply(&Envelope{Op: OpError, Channel: env.Channel, Reason: err.Error()})
		}
	case OpDisconnect:
		return true
	default:
		if log != nil {
			log.Debugf("ignoring client op %s", env.Op)
		}
	}
	return false
}

func (g *gatewaySession) reply(env *Envelope) {
	data, err := env.Marshal()
	if err == nil {
		err = g.link.Send(data)
	}
	if err != nil && g.server.log != nil {
		g.server.log.Debugf("reply %s: %v", env.Op, err)
	}
}

func (g *gatewaySession) closeRadio() {
	g.radio.OnDisconnect(nil)
	_ = g.radio.Close()
}
