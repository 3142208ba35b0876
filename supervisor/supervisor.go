// Copyright (C) 2025 whisp-net
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package supervisor is the Node Supervisor (spec.md §4.8): it wires
// identity, STUN discovery, bootstrap registration, the peer table,
// crypto sessions, the wire dispatcher, the presence/keepalive engine
// and the messaging engine into one running node, and owns cooperative
// shutdown.
package supervisor

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whisp-net/whisp/audit"
	"github.com/whisp-net/whisp/bootstrap"
	"github.com/whisp-net/whisp/bootstrap/feed"
	"github.com/whisp-net/whisp/config"
	"github.com/whisp-net/whisp/cryptosession"
	"github.com/whisp-net/whisp/identity"
	"github.com/whisp-net/whisp/internal/logger"
	"github.com/whisp-net/whisp/internal/metrics"
	"github.com/whisp-net/whisp/messaging"
	"github.com/whisp-net/whisp/peertable"
	"github.com/whisp-net/whisp/pkg/health"
	"github.com/whisp-net/whisp/presence"
	"github.com/whisp-net/whisp/stun"
	"github.com/whisp-net/whisp/wire"
)

// Collaborator is what cmd/whisp drives a running Node through (spec.md
// §6): send a message, list known peers, and shut down cleanly.
type Collaborator interface {
	Send(toName, content string) (messaging.Result, string)
	ListPeers() []peertable.Peer
	Shutdown(ctx context.Context) error
}

// MessageHandler is invoked for every decrypted inbound chat message.
type MessageHandler func(fromUsername, content string)

// Node composes every whisp component into one supervised process.
type Node struct {
	cfg *config.Config
	log logger.Logger

	self     *identity.Self
	socket   *net.UDPConn
	sessions *cryptosession.Cache
	peers    *peertable.Table

	dispatcher      *wire.Dispatcher
	presenceEngine  *presence.Engine
	messagingEngine *messaging.Engine
	auditSink       audit.Sink
	metrics         *metrics.Metrics
	health          *health.Checker
	healthSrv       *health.Server

	bootstrapClient *bootstrap.Client
	feedWatcher     *feed.Watcher

	onMessage MessageHandler
	running   atomic.Bool
}

// New builds a Node from cfg but does not yet start any goroutines:
// it binds the UDP socket, runs STUN discovery, and registers with the
// bootstrap server(s) once, synchronously, so New either returns a node
// ready to Run or a clear startup error.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Node, error) {
	self, err := buildIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build identity: %w", err)
	}
	if cfg.Self.UserID != "" {
		self.UserID = cfg.Self.UserID
	}

	socket, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.Self.ListenAddr), Port: cfg.Self.ListenPort})
	if err != nil {
		return nil, fmt.Errorf("supervisor: bind udp socket: %w", err)
	}

	stunClient := stun.New(socket, cfg.Stun.Servers, cfg.Stun.Timeout, cfg.Stun.FallbackURL, log)
	binding, err := stunClient.Discover(1, cfg.Self.ListenPort)
	if err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("supervisor: stun discovery: %w", err)
	}
	log.Info("stun discovery complete", logger.String("public_ip", binding.IP), logger.Int("public_port", binding.Port))

	sessions := cryptosession.New(self.BoxPublic, self.BoxPrivate)
	peers := peertable.New(self.UserID)

	var bootstrapClient *bootstrap.Client
	if cfg.Bootstrap.URL != "" {
		bootstrapClient = bootstrap.New([]string{cfg.Bootstrap.URL}, cfg.Bootstrap.RequestTimeout, log)
	}

	auditSink, err := buildAuditSink(ctx, cfg, log)
	if err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("supervisor: build audit sink: %w", err)
	}

	m := metrics.New()
	checker := health.NewHealthChecker(5 * time.Second)

	n := &Node{
		cfg:             cfg,
		log:             log,
		self:            self,
		socket:          socket,
		sessions:        sessions,
		peers:           peers,
		auditSink:       auditSink,
		metrics:         m,
		health:          checker,
		bootstrapClient: bootstrapClient,
	}

	n.dispatcher = wire.New(socket, wire.Handlers{
		OnPresence:   n.handlePresence,
		OnPing:       n.handlePing,
		OnPong:       n.handlePong,
		OnCiphertext: n.handleCiphertext,
	}, log)
	n.messagingEngine = messaging.New(self.UserID, self.Username, peers, sessions, n.dispatcher)
	n.presenceEngine = presence.New(self, peers, n.dispatcher, sessions, log, cfg.Security.SignPresence, cfg.Session.PeerTTL)

	if cfg.Bootstrap.FeedURL != "" {
		n.feedWatcher = feed.New(cfg.Bootstrap.FeedURL, n.handlePushedPeers, log)
	}

	n.registerHealthChecks(binding)

	if bootstrapClient != nil {
		selfDescriptor := bootstrap.SelfDescriptor{
			UserID:   self.UserID,
			Username: self.Username,
			IP:       binding.IP,
			Port:     binding.Port,
			PubKey:   sessions.PublicKeyBase64(),
		}
		n.handlePushedPeers(bootstrapClient.Register(ctx, selfDescriptor))
	}

	return n, nil
}

// SetMessageHandler installs the callback invoked for every decrypted
// inbound chat message. It must be set before Run.
func (n *Node) SetMessageHandler(h MessageHandler) { n.onMessage = h }

// Metrics exposes the node's Prometheus bundle, for wiring an HTTP
// exposition endpoint in cmd/whisp.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Self returns the node's identity.
func (n *Node) Self() *identity.Self { return n.self }

// Run blocks until ctx is canceled, jointly supervising the dispatcher
// receive loop, the presence/keepalive sweep, the periodic bootstrap
// re-registration, and (if configured) the bootstrap push-feed watcher.
// Per spec.md §5, every loop shares a single cooperative-shutdown flag.
func (n *Node) Run(ctx context.Context) error {
	n.running.Store(true)
	if n.cfg.Health.ListenAddr != "" {
		n.healthSrv = health.NewServer(n.health, n.log, n.cfg.Health.ListenAddr, n.cfg.Health.Path)
		if err := n.healthSrv.Start(); err != nil {
			return fmt.Errorf("supervisor: start health server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.dispatcher.Run(func() bool { return n.running.Load() })
	})

	g.Go(func() error {
		n.runSweepLoop(gctx)
		return nil
	})

	if n.bootstrapClient != nil {
		g.Go(func() error {
			n.runBootstrapLoop(gctx)
			return nil
		})
	}

	if n.feedWatcher != nil {
		g.Go(func() error {
			n.feedWatcher.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		n.stopLoops()
		return nil
	})

	return g.Wait()
}

// Shutdown announces offline presence to every known peer, gives the
// datagram a short grace period to leave the socket, then stops every
// loop (spec.md §5: "broadcast presence(offline) ... before exiting").
func (n *Node) Shutdown(ctx context.Context) error {
	n.presenceEngine.Broadcast(true)

	select {
	case <-ctx.Done():
	case <-time.After(300 * time.Millisecond):
	}

	n.stopLoops()
	if n.healthSrv != nil {
		_ = n.healthSrv.Stop(ctx)
	}
	n.auditSink.Close()
	return n.socket.Close()
}

func (n *Node) stopLoops() {
	n.running.Store(false)
}

// Send implements Collaborator.
func (n *Node) Send(toName, content string) (messaging.Result, string) {
	result, messageID := n.messagingEngine.Send(toName, content)
	n.metrics.PendingMessages.Set(float64(n.messagingEngine.PendingCount()))
	if result == messaging.OK {
		n.metrics.MessagesSent.Inc()
		audit.RecordAsync(n.auditSink, n.log, audit.Event{Kind: audit.KindSent, MessageID: messageID, At: time.Now()})
	}
	return result, messageID
}

// ListPeers implements Collaborator.
func (n *Node) ListPeers() []peertable.Peer { return n.peers.List() }

func (n *Node) runSweepLoop(ctx context.Context) {
	interval := n.cfg.Session.PingInterval
	if interval <= 0 {
		interval = presence.SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.presenceEngine.Sweep(time.Now())
			n.metrics.PeersActive.Set(float64(n.peers.Len()))
		}
	}
}

func (n *Node) runBootstrapLoop(ctx context.Context) {
	interval := n.cfg.Bootstrap.RegisterInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			self := bootstrap.SelfDescriptor{
				UserID:   n.self.UserID,
				Username: n.self.Username,
				PubKey:   n.sessions.PublicKeyBase64(),
			}
			peers := n.bootstrapClient.Register(ctx, self)
			n.metrics.BootstrapRegistrations.WithLabelValues("ok").Inc()
			n.handlePushedPeers(peers)
		}
	}
}

// handlePushedPeers upserts every descriptor into the peer table and
// builds/refreshes its Session (spec.md §4.5's Session-exists-iff-Peer-
// present-and-key-parseable invariant applies to bootstrap-learned peers
// exactly as it does to presence-learned ones). Both the initial
// registration in New and the periodic re-registration/push-feed loops
// route through this one path.
func (n *Node) handlePushedPeers(descs []bootstrap.PeerDescriptor) {
	for _, p := range descs {
		n.peers.UpsertFromPresence(p.UserID, p.Username, p.IP, p.Port, p.PubKey)
		if _, err := n.sessions.GetOrBuild(p.UserID, p.PubKey); err != nil {
			n.log.Warn("bootstrap: peer's public key is not usable for a session", logger.String("peer", p.UserID), logger.Error(err))
		}
	}
}

func (n *Node) handlePresence(from wire.Addr, p wire.Presence) {
	n.presenceEngine.HandlePresence(from, p)
	n.metrics.PeersActive.Set(float64(n.peers.Len()))
}

func (n *Node) handlePing(from wire.Addr, p wire.Ping) { n.presenceEngine.HandlePing(from, p) }
func (n *Node) handlePong(from wire.Addr, p wire.Pong) { n.presenceEngine.HandlePong(from, p) }

func (n *Node) handleCiphertext(from wire.Addr, raw []byte) {
	peer, ok := n.peers.FindByAddr(from.IP, from.Port)
	if !ok {
		n.log.Debug("dropped ciphertext from unknown address", logger.String("from", from.String()))
		return
	}

	session, err := n.sessions.GetOrBuild(peer.UserID, peer.PubKey)
	if err != nil {
		n.log.Warn("dropped ciphertext with unbuildable session", logger.String("peer", peer.UserID), logger.Error(err))
		return
	}

	plaintext, err := session.Open(raw)
	if err != nil {
		n.log.Warn("dropped ciphertext that failed authentication", logger.String("peer", peer.UserID), logger.Error(err))
		return
	}

	typ, payload, err := wire.DecodeCiphertextPayload(plaintext)
	if err != nil {
		n.log.Warn("dropped undecodable ciphertext payload", logger.String("peer", peer.UserID), logger.Error(err))
		return
	}

	switch typ {
	case wire.TypeMessage:
		msg := payload.(wire.Message)
		if n.onMessage != nil {
			n.onMessage(msg.FromUsername, msg.Content)
		}
		n.metrics.MessagesDelivered.Inc()
		audit.RecordAsync(n.auditSink, n.log, audit.Event{Kind: audit.KindDelivered, PeerID: peer.UserID, MessageID: msg.MessageID, At: time.Now()})

		receiptRaw, err := messaging.BuildReceipt(session, msg.MessageID)
		if err != nil {
			n.log.Error("failed to build receipt", logger.Error(err))
			return
		}
		n.dispatcher.Send(from, receiptRaw)
	case wire.TypeReceipt:
		receipt := payload.(wire.Receipt)
		n.messagingEngine.ResolveReceipt(receipt.MessageID)
		n.metrics.PendingMessages.Set(float64(n.messagingEngine.PendingCount()))
	}
}

func (n *Node) registerHealthChecks(binding stun.Binding) {
	n.health.RegisterCheck("socket", health.SocketHealthCheck(func() error {
		return n.socket.SetReadDeadline(time.Now().Add(time.Second))
	}))
	n.health.RegisterCheck("peer_table", health.PeerTableHealthCheck(func() error {
		_ = n.peers.Len()
		return nil
	}))
	if n.bootstrapClient != nil {
		n.health.RegisterCheck("bootstrap", health.BootstrapHealthCheck(n.bootstrapClient.Ping))
	}
	n.health.RegisterCheck("system", health.SystemHealthCheck())
	_ = binding
}

func buildIdentity(cfg *config.Config) (*identity.Self, error) {
	if !cfg.Security.SignPresence {
		return identity.New(cfg.Self.UserID)
	}
	if cfg.Security.SeedFile == "" {
		return identity.NewSigned(cfg.Self.UserID)
	}

	raw, err := os.ReadFile(cfg.Security.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return identity.NewSignedFromSeed(cfg.Self.UserID, seed)
}

func buildAuditSink(ctx context.Context, cfg *config.Config, log logger.Logger) (audit.Sink, error) {
	if cfg.Audit.DSN == "" {
		return audit.NoopSink{}, nil
	}
	return audit.NewPostgresSink(ctx, cfg.Audit.DSN, log)
}
