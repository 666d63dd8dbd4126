package consensus

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// GossipTopic is the single pubsub topic proposals and votes travel on;
// the payload's own framing (proposal vs. vote) distinguishes the two.
const GossipTopic = "agentworld/consensus/v1"

// Gossip wraps a libp2p host and a gossipsub router for broadcasting
// proposals and votes among the validator set (§4.4, §5 "adjacent tasks
// run on a pool of cooperative workers... the consensus protocol").
type Gossip struct {
	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewGossip starts a libp2p host listening on listenAddr (a multiaddr
// string) and joins GossipTopic via gossipsub.
func NewGossip(ctx context.Context, listenAddr string) (*Gossip, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("consensus: libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("consensus: gossipsub: %w", err)
	}
	topic, err := ps.Join(GossipTopic)
	if err != nil {
		return nil, fmt.Errorf("consensus: join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("consensus: subscribe: %w", err)
	}
	return &Gossip{host: h, ps: ps, topic: topic, sub: sub}, nil
}

// Publish broadcasts raw bytes (an encoded proposal or vote) to the topic.
func (g *Gossip) Publish(ctx context.Context, data []byte) error {
	return g.topic.Publish(ctx, data)
}

// Next blocks until the next message not authored by this host arrives.
func (g *Gossip) Next(ctx context.Context) ([]byte, peer.ID, error) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return nil, "", err
		}
		if msg.ReceivedFrom == g.host.ID() {
			continue
		}
		return msg.Data, msg.ReceivedFrom, nil
	}
}

// Addrs returns this host's listen multiaddrs, for peer bootstrapping.
func (g *Gossip) Addrs() []string {
	addrs := g.host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.host.ID()))
	}
	return out
}

// Close tears down the subscription, topic and host.
func (g *Gossip) Close() error {
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		return err
	}
	return g.host.Close()
}
