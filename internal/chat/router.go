package chat

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ledzpl/tcpchat/internal/metrics"
)

// Router delivers messages to registered peers. It never holds the registry
// lock while writing; delivery runs over a snapshot.
type Router struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRouter returns a router delivering to the members of registry.
func NewRouter(registry *Registry, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger,
	}
}

// Registry returns the registry the router delivers to.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Broadcast delivers text to every registered peer except exclude (nil means
// everyone). Peers whose write fails are removed once the pass is complete.
func (r *Router) Broadcast(text string, exclude *Peer) {
	members := r.registry.Snapshot()

	var failed []*Peer
	for _, m := range members {
		if exclude != nil && m.Peer == exclude {
			continue
		}
		if err := m.Peer.WriteString(text); err != nil {
			r.logger.Debug().Str("peer", m.Peer.ID).Str("name", m.Name).Err(err).Msg("broadcast write failed")
			failed = append(failed, m.Peer)
		}
	}

	for _, p := range failed {
		r.drop(p)
	}
}

// Whisper sends text from one session to the first peer registered as toName.
// The returned error only reflects writes to the sender's own connection.
func (r *Router) Whisper(from *Peer, fromName, toName, text string) error {
	target, ok := r.registry.FindByName(toName)
	if !ok {
		if err := from.WriteString(whisperNotFound(toName)); err != nil {
			return fmt.Errorf("whisper notice: %w", err)
		}
		return nil
	}

	if err := target.WriteString(whisperDelivery(fromName, text)); err != nil {
		r.logger.Debug().Str("peer", target.ID).Str("name", toName).Err(err).Msg("whisper write failed")
		r.drop(target)
		return nil
	}
	metrics.MessageRouted(metrics.KindWhisper)

	if err := from.WriteString(whisperEcho(toName, text)); err != nil {
		return fmt.Errorf("whisper echo: %w", err)
	}
	return nil
}

// Remove unregisters p, closes its connection and announces the departure.
// Only the caller that actually removed the entry announces; it reports
// whether that was this call.
func (r *Router) Remove(p *Peer) bool {
	name, ok := r.registry.Leave(p)
	_ = p.Close()
	if !ok {
		return false
	}

	metrics.SessionLeft()
	r.logger.Info().Str("peer", p.ID).Str("name", name).Str("addr", p.Addr).Msg("session left")
	r.Broadcast(leaveNotice(name), nil)
	metrics.MessageRouted(metrics.KindSystem)
	return true
}

// drop treats a failed delivery as that peer's disconnect.
func (r *Router) drop(p *Peer) {
	if r.Remove(p) {
		metrics.PeerDropped()
	}
}
