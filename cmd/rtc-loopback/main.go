// In-process WebRTC loopback demo for the adaptive bitrate controller.
//
// Two PeerConnections are wired together over localhost ICE. The sender
// carries the stats interceptor and pushes synthetic VP8 samples whose size
// follows the controller's applied bitrate; the receiver drains the track
// and answers with receiver reports, closing the control loop end to end.
//
// Usage:
//
//	go run ./cmd/rtc-loopback -duration 60s
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/streamware/abr/pkg/abr"
	abrinterceptor "github.com/streamware/abr/pkg/abr/interceptor"
)

const framesPerSecond = 30

// pacedEncoder sizes outgoing frames from the applied bitrate. It stands in
// for a real video encoder's rate control.
type pacedEncoder struct {
	bps atomic.Int64
}

// SetBitrate implements abr.Encoder.
func (e *pacedEncoder) SetBitrate(bps int64) error {
	e.bps.Store(bps)
	return nil
}

func (e *pacedEncoder) frameSize() int {
	bps := e.bps.Load()
	if bps <= 0 {
		bps = 300_000
	}
	return int(bps / 8 / framesPerSecond)
}

func main() {
	duration := flag.Duration("duration", time.Minute, "How long to run the loopback")
	flag.Parse()

	sourceCh := make(chan abr.StatsSource, 1)
	sender, err := newSenderPeer(sourceCh)
	if err != nil {
		log.Fatalf("sender peer: %v", err)
	}
	receiver, err := newReceiverPeer()
	if err != nil {
		log.Fatalf("receiver peer: %v", err)
	}
	defer sender.Close()
	defer receiver.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "loopback",
	)
	if err != nil {
		log.Fatalf("create track: %v", err)
	}
	if _, err := sender.AddTrack(track); err != nil {
		log.Fatalf("add track: %v", err)
	}

	receiver.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("receiver got track: codec=%s ssrc=%d", remote.Codec().MimeType, remote.SSRC())
		buf := make([]byte, 1500)
		for {
			if _, _, err := remote.Read(buf); err != nil {
				return
			}
		}
	})

	if err := connect(sender, receiver); err != nil {
		log.Fatalf("connect peers: %v", err)
	}

	source := <-sourceCh
	encoder := &pacedEncoder{}
	encoder.bps.Store(300_000)

	controller, err := abr.New(source, encoder,
		abr.WithApplyInterval(time.Second),
		abr.WithOnBitrateChanged(func(bps int64) {
			log.Printf("bitrate applied: %.2f Mbps", float64(bps)/1e6)
		}),
		abr.WithOnLivenessStalled(func() {
			log.Printf("WARNING: acknowledgments stalled")
		}),
	)
	if err != nil {
		log.Fatalf("create controller: %v", err)
	}

	controller.Start()
	defer controller.Stop()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	deadline := time.After(*duration)

	frameTicker := time.NewTicker(time.Second / framesPerSecond)
	defer frameTicker.Stop()
	statusTicker := time.NewTicker(2 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-frameTicker.C:
			sample := media.Sample{
				Data:     make([]byte, encoder.frameSize()),
				Duration: time.Second / framesPerSecond,
			}
			if err := track.WriteSample(sample); err != nil {
				log.Printf("write sample: %v", err)
			}

		case <-statusTicker.C:
			if st := controller.State(); st != nil {
				fmt.Printf("target=%.2f Mbps applied=%.2f Mbps rtt=%dms inflight=%d reason=%s\n",
					float64(st.TargetBitrateBps)/1e6,
					float64(st.CurrentBitrateBps)/1e6,
					st.LastSample.RTTMs,
					st.LastSample.SendBufferSize,
					st.Reason)
			}

		case <-deadline:
			log.Printf("duration elapsed, shutting down")
			return

		case sig := <-stopCh:
			log.Printf("received %v, shutting down", sig)
			return
		}
	}
}

// newSenderPeer builds the sending PeerConnection with the stats interceptor
// registered; the created stats source is delivered on sourceCh.
func newSenderPeer(sourceCh chan<- abr.StatsSource) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	reg := &interceptor.Registry{}
	factory := abrinterceptor.NewFactory(
		abrinterceptor.WithOnStatsSource(func(id string, source abr.StatsSource) {
			log.Printf("stats source ready for peer %q", id)
			select {
			case sourceCh <- source:
			default:
			}
		}),
	)
	reg.Add(factory)

	// Receiver reports from the remote side drive the RTT and ack
	// telemetry, so the default report interceptors must be present.
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg))
	return api.NewPeerConnection(webrtc.Configuration{})
}

func newReceiverPeer() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg))
	return api.NewPeerConnection(webrtc.Configuration{})
}

// connect runs the offer/answer exchange between the two in-process peers,
// waiting for ICE gathering so the descriptions carry all candidates.
func connect(offerer, answerer *webrtc.PeerConnection) error {
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		return err
	}
	offerGathered := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		return err
	}
	<-offerGathered

	if err := answerer.SetRemoteDescription(*offerer.LocalDescription()); err != nil {
		return err
	}
	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		return err
	}
	answerGathered := webrtc.GatheringCompletePromise(answerer)
	if err := answerer.SetLocalDescription(answer); err != nil {
		return err
	}
	<-answerGathered

	return offerer.SetRemoteDescription(*answerer.LocalDescription())
}
