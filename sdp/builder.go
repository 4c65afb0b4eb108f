// Package sdp describes the served sessions for receivers that consume
// them over plain UDP.
package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/session"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// ErrNoSessions is returned when there is nothing to describe.
var ErrNoSessions = errors.New("no UDP sessions to describe")

// Options controls the generated description.
type Options struct {
	// SessionName is written as the s= line.
	SessionName string
	// Origin is the unicast address of the sender for the o= line.
	Origin string
	// VideoEncoding overrides the encoding name of the video session.
	VideoEncoding string
	// SessionID is the numeric o= session id. Zero selects the current time.
	SessionID uint64
}

// Build creates a session description with one media section per UDP
// session. ICE sessions are negotiated out of band and are skipped.
//
// Parameters:
//   - sessions: registered sessions in id order
//   - opts: naming and origin options
//
// Returns:
//   - *sdp.SessionDescription: the description
//   - error: ErrNoSessions if no session is delivered over UDP
func Build(sessions []*session.Session, opts Options) (*sdp.SessionDescription, error) {
	var udp []*session.Session
	for _, s := range sessions {
		if s.Mode() == session.ModeUDP {
			udp = append(udp, s)
		}
	}
	if len(udp) == 0 {
		return nil, ErrNoSessions
	}

	if opts.SessionName == "" {
		opts.SessionName = "rtpserver"
	}
	if opts.Origin == "" {
		opts.Origin = "0.0.0.0"
	}
	id := opts.SessionID
	if id == 0 {
		id = uint64(time.Now().Unix())
	}

	// The c= line names the destination of the first session; each media
	// section overrides it when sessions point to different hosts.
	dest := udp[0].Link(session.RoleRTPSink).Host

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      id,
			SessionVersion: id,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: opts.Origin,
		},
		SessionName: sdp.SessionName(opts.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: dest},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, s := range udp {
		md := mediaDescription(s, opts)
		if host := s.Link(session.RoleRTPSink).Host; host != dest {
			md.ConnectionInformation = &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: host},
			}
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Build",
		"sessions": len(desc.MediaDescriptions),
		"dest":     dest,
	}).Debug("Built session description")

	return desc, nil
}

// Marshal builds the description and renders it in SDP text form.
func Marshal(sessions []*session.Session, opts Options) ([]byte, error) {
	desc, err := Build(sessions, opts)
	if err != nil {
		return nil, err
	}
	return desc.Marshal()
}

func mediaDescription(s *session.Session, opts Options) *sdp.MediaDescription {
	kind := s.Kind()
	pt := strconv.Itoa(int(kind.PayloadType()))
	rtp := s.Link(session.RoleRTPSink)
	rtcp := s.Link(session.RoleRTCPSink)

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   mediaType(kind),
			Port:    sdp.RangedPort{Value: rtp.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{pt},
		},
	}
	title := sdp.Information(kind.String())
	md.MediaTitle = &title

	md.WithValueAttribute("rtpmap", pt+" "+rtpmap(kind, opts.VideoEncoding))
	if fmtp := formatParameters(s, opts.VideoEncoding); fmtp != "" {
		md.WithValueAttribute("fmtp", pt+" "+fmtp)
	}
	md.WithValueAttribute("rtcp", strconv.Itoa(rtcp.Port))
	if kind.IsImage() && s.Channel().FPS > 0 {
		md.WithValueAttribute("framerate", strconv.Itoa(s.Channel().FPS))
	}
	if br := bandwidthKbps(s); br > 0 {
		md.Bandwidth = append(md.Bandwidth, sdp.Bandwidth{Type: "AS", Bandwidth: br})
	}
	md.WithPropertyAttribute("sendonly")

	return md
}

func mediaType(kind media.Kind) string {
	switch kind {
	case media.KindAudio:
		return "audio"
	case media.KindEvent:
		return "application"
	default:
		return "video"
	}
}

func rtpmap(kind media.Kind, videoEncoding string) string {
	name := kind.EncodingName()
	if kind == media.KindVideo && videoEncoding != "" {
		name = videoEncoding
	}
	if kind == media.KindAudio {
		return fmt.Sprintf("%s/%d/2", name, kind.ClockRate())
	}
	return fmt.Sprintf("%s/%d", name, kind.ClockRate())
}

// formatParameters returns the raw video sampling parameters for image
// sessions that are sent uncompressed.
func formatParameters(s *session.Session, videoEncoding string) string {
	kind := s.Kind()
	if !kind.IsImage() {
		return ""
	}
	if kind == media.KindVideo && videoEncoding != "" && videoEncoding != kind.EncodingName() {
		return ""
	}
	shape := s.Shape()
	sampling := "RGB"
	if shape.BytesPerPixel == 1 {
		sampling = "GRAYSCALE"
	}
	return fmt.Sprintf("sampling=%s; width=%d; height=%d; depth=8", sampling, shape.Width, shape.Height)
}

// bandwidthKbps returns the b=AS value. Audio bitrates are configured in
// bits per second, image bitrates in kilobits per second.
func bandwidthKbps(s *session.Session) uint64 {
	br := uint64(s.Channel().Bitrate)
	if s.Kind() == media.KindAudio {
		return br / 1000
	}
	return br
}
