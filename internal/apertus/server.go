// Package apertus is the transfer relay: it pairs the two ends of a
// transaction by id and pumps bytes between them.
package apertus

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/metaclient"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/portfile"
)

const handshakeTimeout = 10 * time.Second

type Config struct {
	UID  string
	Host string

	PlainAddr string
	SSLAddr   string
	PortFile  string

	TLS *tls.Config

	HeartbeatInterval time.Duration
}

type Server struct {
	cfg  Config
	meta *metaclient.Client
	log  *slog.Logger

	mu      sync.Mutex
	waiting map[string]net.Conn

	bytes     atomic.Int64
	transfers atomic.Int64

	plainLn net.Listener
	sslLn   net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, meta *metaclient.Client, log *slog.Logger) *Server {
	if cfg.UID == "" {
		cfg.UID = uuid.NewString()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &Server{
		cfg:     cfg,
		meta:    meta,
		log:     log,
		waiting: make(map[string]net.Conn),
	}
}

func (s *Server) UID() string { return s.cfg.UID }

// Ports returns the bound plain and ssl ports.
func (s *Server) Ports() (int, int) {
	ssl := 0
	if s.sslLn != nil {
		ssl = s.sslLn.Addr().(*net.TCPAddr).Port
	}
	return s.plainLn.Addr().(*net.TCPAddr).Port, ssl
}

func (s *Server) Start() error {
	var err error
	s.plainLn, err = net.Listen("tcp", s.cfg.PlainAddr)
	if err != nil {
		return err
	}
	if s.cfg.TLS != nil {
		s.sslLn, err = tls.Listen("tcp", s.cfg.SSLAddr, s.cfg.TLS)
		if err != nil {
			s.plainLn.Close()
			return err
		}
	}

	plainPort, sslPort := s.Ports()
	if err := portfile.Write(s.cfg.PortFile, plainPort, sslPort); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.meta.RegisterRelay(ctx, s.cfg.UID, dto.ApertusHeartbeat{
		Host:    s.cfg.Host,
		PortTCP: plainPort,
		PortSSL: sslPort,
	}); err != nil {
		s.log.Warn("relay registration failed", "err", err)
	}

	s.wg.Add(1)
	go s.heartbeatLoop(ctx)
	s.acceptLoop(s.plainLn)
	if s.sslLn != nil {
		s.acceptLoop(s.sslLn)
	}
	return nil
}

func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.meta.UnregisterRelay(ctx, s.cfg.UID); err != nil {
		s.log.Warn("relay unregistration failed", "err", err)
	}

	s.plainLn.Close()
	if s.sslLn != nil {
		s.sslLn.Close()
	}
	s.mu.Lock()
	for _, c := range s.waiting {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
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
				s.handle(conn)
			}()
		}
	}()
}

// handle reads the handshake, one version byte, one length byte, then the
// transaction id, and pairs the connection with the other side.
func (s *Server) handle(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		conn.Close()
		return
	}
	tid := make([]byte, int(header[1]))
	if _, err := io.ReadFull(conn, tid); err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	peer, ok := s.waiting[string(tid)]
	if ok {
		delete(s.waiting, string(tid))
	} else {
		s.waiting[string(tid)] = conn
	}
	s.mu.Unlock()

	if !ok {
		// First arrival waits for its peer.
		return
	}

	s.log.Info("transfer paired", "tid", string(tid))
	s.transfers.Add(1)
	metrics.ActiveTransfers.WithLabelValues().Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(conn, peer)
		s.transfers.Add(-1)
		metrics.ActiveTransfers.WithLabelValues().Dec()
		s.log.Info("transfer finished", "tid", string(tid))
	}()
}

// pump forwards both directions until one side closes, then closes both.
func (s *Server) pump(a, b net.Conn) {
	var once sync.Once
	closeBoth := func() {
		a.Close()
		b.Close()
	}
	var wg sync.WaitGroup
	pipe := func(dst, src net.Conn) {
		defer wg.Done()
		n, _ := io.Copy(dst, src)
		s.bytes.Add(n)
		metrics.RelayBytesTotal.WithLabelValues().Add(float64(n))
		once.Do(closeBoth)
	}
	wg.Add(2)
	go pipe(a, b)
	go pipe(b, a)
	wg.Wait()
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	last := s.bytes.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := s.bytes.Load()
			load := float64(cur-last) / s.cfg.HeartbeatInterval.Seconds()
			last = cur
			err := s.meta.RelayBandwidth(ctx, s.cfg.UID, dto.ApertusBandwidth{
				Bandwidth:         load,
				NumberOfTransfers: int(s.transfers.Load()),
			})
			if err != nil {
				s.log.Warn("bandwidth heartbeat failed", "err", err)
			}
		}
	}
}
