// Package trophonius is the push gateway: it holds the client connections
// and writes them the notifications the coordinator authors on the control
// port.
package trophonius

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/metaclient"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/portfile"
)

type Config struct {
	UID      string
	Zone     string
	Hostname string
	Version  string

	// ClientAddr and ControlAddr may ask for port 0; Ports reports what was
	// actually bound.
	ClientAddr  string
	SSLAddr     string
	ControlAddr string
	PortFile    string

	TLS *tls.Config

	PingTimeout       time.Duration
	HeartbeatInterval time.Duration
}

type Server struct {
	cfg  Config
	meta *metaclient.Client
	log  *slog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*client

	shuttingDown atomic.Bool

	clientLn  net.Listener
	sslLn     net.Listener
	controlLn net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// client is one authenticated device connection. Writes are serialized so
// control fan-out and the ping ticker never interleave on the socket.
type client struct {
	conn   net.Conn
	user   uuid.UUID
	device uuid.UUID

	wmu sync.Mutex
}

func (c *client) writeLine(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(append(raw, '\n'))
	return err
}

func New(cfg Config, meta *metaclient.Client, log *slog.Logger) *Server {
	if cfg.UID == "" {
		cfg.UID = uuid.NewString()
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Server{
		cfg:     cfg,
		meta:    meta,
		log:     log,
		clients: make(map[uuid.UUID]*client),
	}
}

func (s *Server) UID() string { return s.cfg.UID }

// Ports returns the bound client, ssl and control ports.
func (s *Server) Ports() (int, int, int) {
	ssl := 0
	if s.sslLn != nil {
		ssl = s.sslLn.Addr().(*net.TCPAddr).Port
	}
	return s.clientLn.Addr().(*net.TCPAddr).Port,
		ssl,
		s.controlLn.Addr().(*net.TCPAddr).Port
}

// Start binds the listeners, writes the port file, registers with the
// coordinator and launches the accept and heartbeat loops.
func (s *Server) Start() error {
	var err error
	s.clientLn, err = net.Listen("tcp", s.cfg.ClientAddr)
	if err != nil {
		return err
	}
	if s.cfg.TLS != nil {
		s.sslLn, err = tls.Listen("tcp", s.cfg.SSLAddr, s.cfg.TLS)
		if err != nil {
			s.clientLn.Close()
			return err
		}
	}
	s.controlLn, err = net.Listen("tcp", s.cfg.ControlAddr)
	if err != nil {
		s.clientLn.Close()
		if s.sslLn != nil {
			s.sslLn.Close()
		}
		return err
	}

	clientPort, sslPort, controlPort := s.Ports()
	if err := portfile.Write(s.cfg.PortFile, clientPort, sslPort, controlPort); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.heartbeat(ctx); err != nil {
		s.log.Warn("initial heartbeat failed", "err", err)
	}

	s.wg.Add(1)
	go s.heartbeatLoop(ctx)
	s.acceptLoop(ctx, s.clientLn)
	if s.sslLn != nil {
		s.acceptLoop(ctx, s.sslLn)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.controlLn.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleControl(conn)
			}()
		}
	}()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleClient(ctx, conn)
			}()
		}
	}()
}

// Drain flips shutting_down so the coordinator stops routing new clients
// here; existing connections keep running.
func (s *Server) Drain(ctx context.Context) {
	s.shuttingDown.Store(true)
	if err := s.heartbeat(ctx); err != nil {
		s.log.Warn("drain heartbeat failed", "err", err)
	}
}

// Close unregisters from the coordinator and tears everything down.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.meta.UnregisterGateway(ctx, s.cfg.UID); err != nil {
		s.log.Warn("unregister failed", "err", err)
	}

	s.clientLn.Close()
	if s.sslLn != nil {
		s.sslLn.Close()
	}
	s.controlLn.Close()

	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) heartbeat(ctx context.Context) error {
	s.mu.Lock()
	users := len(s.clients)
	s.mu.Unlock()
	clientPort, sslPort, controlPort := s.Ports()
	return s.meta.RegisterGateway(ctx, s.cfg.UID, dto.TrophoniusHeartbeat{
		Hostname:      s.cfg.Hostname,
		PortClient:    clientPort,
		PortClientSSL: sslPort,
		Port:          controlPort,
		Users:         users,
		Version:       s.cfg.Version,
		Zone:          s.cfg.Zone,
		ShuttingDown:  s.shuttingDown.Load(),
	})
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.heartbeat(ctx); err != nil {
				s.log.Warn("heartbeat failed", "err", err)
			}
		}
	}
}

// authLine is the first line a client must send.
type authLine struct {
	Token    string    `json:"token"`
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
}

type authResponse struct {
	NotificationType int `json:"notification_type"`
	ResponseCode     int `json:"response_code"`
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	c := &client{conn: conn}
	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}
	var auth authLine
	if err := json.Unmarshal(line, &auth); err != nil {
		c.writeLine(authResponse{int(notification.ConnectionOK), 400})
		return
	}

	owner, err := s.meta.SelfUserID(ctx, auth.Token)
	if err != nil || owner != auth.UserID {
		c.writeLine(authResponse{int(notification.ConnectionOK), 400})
		return
	}
	if err := s.meta.BindDevice(ctx, s.cfg.UID, auth.UserID, auth.DeviceID); err != nil {
		s.log.Warn("device registration failed", "device", auth.DeviceID, "err", err)
		c.writeLine(authResponse{int(notification.ConnectionOK), 400})
		return
	}
	c.user = auth.UserID
	c.device = auth.DeviceID

	if err := c.writeLine(authResponse{int(notification.ConnectionOK), 200}); err != nil {
		s.unbind(c)
		return
	}

	s.mu.Lock()
	if old, ok := s.clients[c.device]; ok {
		old.conn.Close()
	}
	s.clients[c.device] = c
	s.mu.Unlock()
	metrics.ConnectedClients.WithLabelValues().Inc()

	s.log.Info("client connected", "user", c.user, "device", c.device)
	defer func() {
		s.mu.Lock()
		if s.clients[c.device] == c {
			delete(s.clients, c.device)
		}
		s.mu.Unlock()
		metrics.ConnectedClients.WithLabelValues().Dec()
		s.unbind(c)
		s.log.Info("client disconnected", "user", c.user, "device", c.device)
	}()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pingLoop(pingCtx, c)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var msg struct {
			Type notification.Type `json:"notification_type"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		// Only the keepalive echo buys more time.
		if msg.Type == notification.Ping {
			conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(s.cfg.PingTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeLine(notification.Stamp(notification.Ping, nil)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) unbind(c *client) {
	if c.device == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.meta.UnbindDevice(ctx, s.cfg.UID, c.user, c.device); err != nil {
		s.log.Warn("device unregistration failed", "device", c.device, "err", err)
	}
}

// handleControl reads coordinator envelopes and fans each notification out
// to the named devices. Devices not connected here are skipped without
// comment, the coordinator already picked the gateway per device.
func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var env notification.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			s.log.Warn("bad control line", "err", err)
			continue
		}
		for _, device := range env.ToDevices {
			s.mu.Lock()
			c, ok := s.clients[device]
			s.mu.Unlock()
			if !ok {
				continue
			}
			if err := c.writeLine(env.Notification); err != nil && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("client write failed", "device", device, "err", err)
			}
		}
	}
}
