// Package transport resolves the link descriptors of every session into
// live network connections.
//
// Direct UDP sessions dial an IPv4 socket towards the destination for RTP
// (port P) and outgoing RTCP (port P+1) and listen on P+3 for incoming
// RTCP. ICE sessions take the connection of components 1, 2 and 3 from the
// negotiated stream and never touch host or port settings.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/opd-ai/rtpserver/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Binder opens the connections described by a session topology.
type Binder struct {
	// ListenHost is the local address the RTCP sources listen on.
	// Empty means every interface.
	ListenHost string

	dialer       net.Dialer
	listenConfig net.ListenConfig
}

// NewBinder returns a binder listening on every interface.
func NewBinder() *Binder {
	return &Binder{}
}

// Bind resolves every session concurrently.
//
// Any failure closes every connection opened so far and is returned as a
// *BindError wrapping ErrBindFailed. Failures are not retried.
func (b *Binder) Bind(ctx context.Context, sessions []*session.Session) (*Bindings, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Bind",
		"sessions": len(sessions),
	}).Info("Binding session transports")

	out := newBindings()
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range sessions {
		s := s
		g.Go(func() error {
			binding, err := b.bindSession(gctx, s)
			if err != nil {
				return err
			}
			out.add(binding)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = out.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Bind",
			"error":    err.Error(),
		}).Error("Transport binding failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bind",
		"bindings": out.Len(),
	}).Info("Session transports bound")

	return out, nil
}

func (b *Binder) bindSession(ctx context.Context, s *session.Session) (*Binding, error) {
	binding := &Binding{
		SessionID: s.ID(),
		Kind:      s.Kind(),
		Mode:      s.Mode(),
	}

	for _, link := range s.Links() {
		conn, err := b.bindLink(ctx, s, link)
		if err != nil {
			_ = binding.Close()
			return nil, &BindError{
				SessionID: s.ID(),
				Role:      link.Role,
				Address:   link.Address(),
				Err:       err,
			}
		}
		binding.set(link.Role, conn)

		logrus.WithFields(logrus.Fields{
			"function":   "bindSession",
			"session_id": s.ID(),
			"element":    link.Name,
			"address":    link.Address(),
			"mode":       link.Mode.String(),
		}).Debug("Link bound")
	}
	return binding, nil
}

func (b *Binder) bindLink(ctx context.Context, s *session.Session, link session.Link) (net.Conn, error) {
	if link.Mode == session.ModeICE {
		stream := s.Channel().Stream
		if stream == nil {
			return nil, fmt.Errorf("session has no ice stream")
		}
		return stream.Component(link.Component)
	}

	network := "udp"
	if link.IPv4Only || link.Role == session.RoleRTCPSource {
		network = "udp4"
	}

	if link.IsSink() {
		addr := net.JoinHostPort(link.Host, strconv.Itoa(link.Port))
		return b.dialer.DialContext(ctx, network, addr)
	}

	addr := net.JoinHostPort(b.ListenHost, strconv.Itoa(link.Port))
	pc, err := b.listenConfig.ListenPacket(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(net.Conn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listener on %s is not a stream-capable conn", addr)
	}
	return conn, nil
}
