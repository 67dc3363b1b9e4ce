// Package demo drives a minimal two-peer-connection router session: one
// local Pion peer connection sending a simulated video track, one
// receiving it, both registered with a single router.PacketRouter. It
// backs cmd/routerdemo and is imported directly by the e2e suite so the
// same session can be driven in-process without a subprocess or an HTTP
// signalling surface.
package demo

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	bweinterceptor "github.com/thesyncim/packetrouter/pkg/bwe/interceptor"
	"github.com/thesyncim/packetrouter/pkg/router"
	"github.com/thesyncim/packetrouter/pkg/transport"
)

const absSendTimeURI = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"

// Options configures a Run call. The zero value is not valid; use
// DefaultOptions and override what the caller needs.
type Options struct {
	// Duration is how long the simulated pacer drives sends for.
	Duration time.Duration

	// PacketInterval is the simulated pacer tick, 20ms (50pps) by default.
	PacketInterval time.Duration

	// StatusInterval controls how often a status line is logged. Set to
	// zero, or to a value larger than Duration, to silence it.
	StatusInterval time.Duration

	// Logger receives status lines. Defaults to log.Default() if nil.
	Logger *log.Logger

	// TrackReadyTimeout bounds how long Run waits for the receiver's
	// OnTrack callback before giving up and continuing send-only.
	TrackReadyTimeout time.Duration
}

// DefaultOptions returns the settings cmd/routerdemo uses when no flags
// override them.
func DefaultOptions() Options {
	return Options{
		Duration:          30 * time.Second,
		PacketInterval:    20 * time.Millisecond,
		StatusInterval:    5 * time.Second,
		TrackReadyTimeout: 5 * time.Second,
	}
}

// Result summarizes what a Run call observed, for callers (tests, the
// demo binary) that want to assert or log on the outcome.
type Result struct {
	// PacketsSent counts pacer ticks the router accepted for dispatch.
	PacketsSent int

	// ActiveREMBModule reports whether a module held REMB duties at the
	// end of the run.
	ActiveREMBModule bool

	// ReceivedEstimate is the last bandwidth estimate the router saw
	// from the receive side, in bits per second.
	ReceivedEstimate uint64
}

// Run negotiates two local peer connections, registers both directions
// with a fresh router.PacketRouter, and drives simulated pacer ticks
// against it until ctx is done or Duration elapses.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	rtr := router.New()
	tracker := &estimateTracker{router: rtr}

	sendPC, recvPC, track, sendSSRC, err := setupLoopback(tracker)
	if err != nil {
		return Result{}, fmt.Errorf("demo: setup: %w", err)
	}
	defer sendPC.Close()
	defer recvPC.Close()

	sendModule := transport.NewSendModule(sendSSRC, track, sendPC,
		transport.WithSendingMedia(true),
		transport.WithBweExtensions(true),
		transport.WithRtxSendStatus(router.RtxOff),
	)
	rtr.AddSendRtpModule(sendModule, false)
	defer rtr.RemoveSendRtpModule(sendModule)

	trackReady := make(chan *webrtc.TrackRemote, 1)
	recvPC.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		trackReady <- remote
	})

	if err := negotiate(sendPC, recvPC); err != nil {
		return Result{}, fmt.Errorf("demo: negotiate: %w", err)
	}

	var remoteTrack *webrtc.TrackRemote
	select {
	case remoteTrack = <-trackReady:
	case <-time.After(opts.TrackReadyTimeout):
		logger.Printf("router demo: no remote track after %v, continuing without a receive module", opts.TrackReadyTimeout)
	case <-ctx.Done():
		return Result{}, nil
	}

	if remoteTrack != nil {
		recvModule := transport.NewReceiveModule(uint32(remoteTrack.SSRC()), recvPC,
			transport.WithBweExtensions(true),
		)
		rtr.AddReceiveRtpModule(recvModule, true)
		defer rtr.RemoveReceiveRtpModule(recvModule)

		go drainTrack(remoteTrack)
	}

	sent := driveSendLoop(ctx, logger, rtr, sendSSRC, opts)

	return Result{
		PacketsSent:      sent,
		ActiveREMBModule: rtr.ActiveREMBModule() != nil,
		ReceivedEstimate: tracker.last(),
	}, nil
}

// estimateTracker sits between the BWE interceptor and the router: it
// forwards every report to the router (so REMB election behaves exactly
// as it would in production) while also remembering the last estimate
// for Result.ReceivedEstimate.
type estimateTracker struct {
	router *router.PacketRouter
	lastBp uint64
}

func (t *estimateTracker) OnReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint64) {
	t.lastBp = bitrateBps
	t.router.OnReceiveBitrateChanged(ssrcs, bitrateBps)
}

func (t *estimateTracker) last() uint64 {
	return t.lastBp
}

// setupLoopback builds a sender and receiver PeerConnection pair. The
// receiver's interceptor registry carries the BWE interceptor, reporting
// estimates to observer — a *router.PacketRouter or the estimateTracker
// wrapping it both satisfy bweinterceptor.BitrateObserver directly.
func setupLoopback(observer bweinterceptor.BitrateObserver) (sendPC, recvPC *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP, sendSSRC uint32, err error) {
	sendAPI, err := newAPI(nil)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	bweFactory, err := bweinterceptor.NewBWEInterceptorFactory(
		bweinterceptor.WithFactoryReportInterval(500*time.Millisecond),
		bweinterceptor.WithFactoryObserver(observer),
	)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	recvAPI, err := newAPI(bweFactory)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	sendPC, err = sendAPI.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, nil, 0, err
	}
	recvPC, err = recvAPI.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		sendPC.Close()
		return nil, nil, nil, 0, err
	}

	track, err = webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "routerdemo",
	)
	if err != nil {
		sendPC.Close()
		recvPC.Close()
		return nil, nil, nil, 0, err
	}
	sender, err := sendPC.AddTrack(track)
	if err != nil {
		sendPC.Close()
		recvPC.Close()
		return nil, nil, nil, 0, err
	}

	params := sender.GetParameters()
	if len(params.Encodings) > 0 {
		sendSSRC = uint32(params.Encodings[0].SSRC)
	}

	return sendPC, recvPC, track, sendSSRC, nil
}

func newAPI(bweFactory *bweinterceptor.BWEInterceptorFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: absSendTimeURI}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if bweFactory != nil {
		i.Add(bweFactory)
	}
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// negotiate exchanges offer/answer directly in-process; both peer
// connections run on localhost so gathering completes immediately.
func negotiate(sendPC, recvPC *webrtc.PeerConnection) error {
	offer, err := sendPC.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := sendPC.SetLocalDescription(offer); err != nil {
		return err
	}
	<-webrtc.GatheringCompletePromise(sendPC)

	if err := recvPC.SetRemoteDescription(*sendPC.LocalDescription()); err != nil {
		return err
	}
	answer, err := recvPC.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := recvPC.SetLocalDescription(answer); err != nil {
		return err
	}
	<-webrtc.GatheringCompletePromise(recvPC)

	return sendPC.SetRemoteDescription(*recvPC.LocalDescription())
}

// drainTrack reads packets off the remote track so RTCP reports keep
// flowing and the BWE interceptor's stream tracking stays warm.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// driveSendLoop simulates a pacer: every PacketInterval it allocates a
// transport-wide sequence number and asks the router to dispatch a send
// for sendSSRC, logging the REMB election state periodically.
func driveSendLoop(ctx context.Context, logger *log.Logger, rtr *router.PacketRouter, sendSSRC uint32, opts Options) int {
	ticker := time.NewTicker(opts.PacketInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(opts.Duration)
	lastStatus := time.Now()
	sent := 0

	for {
		select {
		case <-ctx.Done():
			logger.Printf("router demo: stopped after %d packets", sent)
			return sent
		case now := <-ticker.C:
			if now.After(deadline) {
				logger.Printf("router demo: finished after %d packets", sent)
				return sent
			}

			seq := rtr.AllocateSequenceNumber()
			if rtr.TimeToSendPacket(sendSSRC, seq, now.UnixMilli(), false, router.PacedPacketInfo{}) {
				sent++
			}

			if opts.StatusInterval > 0 && now.Sub(lastStatus) >= opts.StatusInterval {
				lastStatus = now
				active := rtr.ActiveREMBModule()
				logger.Printf("router demo: sent=%d active_remb_module=%v", sent, active != nil)
			}
		}
	}
}
