// Package rtpserver sends several independently produced media streams as
// synchronized RTP sessions.
//
// A Server carries up to four channels: color video, depth, audio and
// out-of-band events. Each registered channel gets its own RTP/RTCP session
// whose packets travel either over plain UDP towards a fixed destination or
// over the components of an ICE stream negotiated by an external signaling
// layer. Receiver feedback arriving on the incoming RTCP link is reported
// through structured diagnostics.
//
// # Getting Started
//
// Register channels, start playback, then push frames from the producers:
//
//	options := rtpserver.NewOptions()
//	options.Host = "192.168.1.20"
//
//	srv, err := rtpserver.NewServer(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.AddVideoChannel(5000, 640, 480, 30); err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Play(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop()
//
//	for frame := range frames {
//	    if err := srv.PushVideoFrame(frame); err != nil {
//	        log.Println(err)
//	    }
//	}
//
// # Ports
//
// A UDP channel registered on base port P sends RTP to P and RTCP sender
// reports to P+1, and listens for receiver reports on P+3. Each ICE channel
// gets its own stream and uses components 1, 2 and 3 of it in the same
// order. Registering a second channel on a stream fails.
//
// # Timestamps
//
// All channels share one clock reference captured when playback starts.
// The first push on a channel only records its timestamp baseline and
// sends nothing. Every later push is stamped with the running time at the
// moment of the call and a duration equal to the gap since the previous
// push, so the cadence of the producer is preserved on the wire.
//
// # Deterministic Testing
//
// Time-dependent behavior uses the injectable clock.Clock:
//
//	manual := clock.NewManualClock(0)
//	options.Clock = manual
//	manual.Advance(33 * time.Millisecond)
//
// # Thread Safety
//
// A Server is safe for concurrent use. Each channel is meant to be fed by
// a single producer goroutine, and different channels may be fed
// concurrently. Registration must complete before Play.
package rtpserver
