package rtpserver

import (
	"sync/atomic"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// opusProbeSamples is the decode buffer size: 1920 samples (40ms at
// 48kHz) of 16-bit audio.
const opusProbeSamples = 1920 * 2

// audioProbe inspects the first audio packet pushed after Play and logs what
// the receiver will see. It never rejects a packet.
type audioProbe struct {
	done atomic.Bool
}

func (p *audioProbe) inspect(packet []byte) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "inspect",
				"panic":    r,
			}).Warn("Audio probe aborted")
		}
	}()

	decoder := opus.NewDecoder()
	out := make([]byte, opusProbeSamples)
	bandwidth, stereo, err := decoder.Decode(packet, out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "inspect",
			"bytes":    len(packet),
			"error":    err.Error(),
		}).Info("First audio packet is not decodable SILK Opus")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "inspect",
		"bytes":     len(packet),
		"bandwidth": bandwidth.String(),
		"stereo":    stereo,
	}).Info("First audio packet probed")
}
