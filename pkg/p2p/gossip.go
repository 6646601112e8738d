// Package p2p gossips exchange events to peer nodes over libp2p pubsub.
package p2p

import (
	"context"
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/events"
)

const DefaultTopic = "smashdex-events"

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
	// OnRemote is called for every event gossiped by another node.
	OnRemote func(origin peer.ID, e events.Event)
}

// Gossip is an events.Subscriber that publishes every event on a gossipsub
// topic and hands events from other nodes to OnRemote.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	onRemote func(origin peer.ID, e events.Event)
	cancel   context.CancelFunc
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		h.Close()
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, err
	}

	rctx, cancel := context.WithCancel(ctx)
	g := &Gossip{h: h, ps: ps, topic: topic, sub: sub, log: cfg.Logger, onRemote: cfg.OnRemote, cancel: cancel}
	go g.handleInbound(rctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns the dialable /p2p multiaddrs of this node.
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+g.h.ID().String())
	}
	return out
}

func (g *Gossip) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, g.h, addr)
}

func (g *Gossip) Peers() int { return len(g.topic.ListPeers()) }

// Deliver publishes e on the topic.
func (g *Gossip) Deliver(ctx context.Context, e events.Event) error {
	data, err := encodeEnvelope(g.h.ID().String(), e)
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

func (g *Gossip) handleInbound(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			g.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if g.onRemote != nil {
			g.onRemote(msg.ReceivedFrom, env.Event)
		}
	}
}

func (g *Gossip) Close() error {
	g.cancel()
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		g.log.Debugw("topic_close_failed", "err", err)
	}
	return g.h.Close()
}
