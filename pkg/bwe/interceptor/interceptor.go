// Package interceptor provides a Pion WebRTC interceptor for receiver-side
// bandwidth estimation using the Google Congestion Control (GCC) algorithm.
package interceptor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"

	"github.com/thesyncim/packetrouter/pkg/bwe"
)

const (
	// streamTimeout is how long to keep tracking an inactive stream.
	// Streams with no packets for this duration are removed.
	streamTimeout = 2 * time.Second
)

// BitrateObserver receives periodic receive-side bitrate estimates. A
// router.PacketRouter satisfies this interface directly through its
// OnReceiveBitrateChanged method, so it can be passed as a factory option
// without an adapter.
type BitrateObserver interface {
	OnReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint64)
}

// BWEInterceptor is a Pion interceptor that performs receiver-side bandwidth
// estimation using the GCC algorithm. It observes incoming RTP packets,
// extracts timing information from header extensions, feeds them to the
// BandwidthEstimator, and periodically reports the resulting estimate to an
// observer. It does not build or send REMB itself; that responsibility
// belongs to whatever holds the REMB-capable RtpModule for the connection.
//
// Usage:
//
//	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
//	interceptor := NewBWEInterceptor(estimator, WithObserver(rtr))
//	// Add to interceptor registry...
type BWEInterceptor struct {
	interceptor.NoOp // Embed for interface compliance

	estimator *bwe.BandwidthEstimator
	streams   sync.Map // SSRC (uint32) -> *streamState

	// Extension IDs (atomic for concurrent access)
	absExtID     atomic.Uint32
	captureExtID atomic.Uint32

	// Reporting
	observer       BitrateObserver
	reportInterval time.Duration

	// Lifecycle
	closed     chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once // Ensures the cleanup loop starts only once
	reportOnce sync.Once // Ensures the report loop starts only once
}

// InterceptorOption is a functional option for configuring BWEInterceptor.
type InterceptorOption func(*BWEInterceptor)

// WithReportInterval sets how often the estimator reports to the observer.
// Default is 1 second.
func WithReportInterval(d time.Duration) InterceptorOption {
	return func(i *BWEInterceptor) {
		i.reportInterval = d
	}
}

// WithObserver sets the observer that receives periodic bitrate reports.
func WithObserver(o BitrateObserver) InterceptorOption {
	return func(i *BWEInterceptor) {
		i.observer = o
	}
}

// NewBWEInterceptor creates a new bandwidth estimation interceptor.
//
// The estimator parameter is the core BandwidthEstimator from the bwe package
// that performs the actual GCC algorithm calculations.
func NewBWEInterceptor(estimator *bwe.BandwidthEstimator, opts ...InterceptorOption) *BWEInterceptor {
	i := &BWEInterceptor{
		estimator:      estimator,
		closed:         make(chan struct{}),
		reportInterval: time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Close shuts down the interceptor and releases resources.
func (i *BWEInterceptor) Close() error {
	close(i.closed)
	i.wg.Wait()
	return nil
}

// BindRTCPWriter is called by Pion once RTCP writing is available for this
// PeerConnection. BWEInterceptor never writes RTCP itself, but this is a
// reliable, once-per-connection moment to start the report loop.
func (i *BWEInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	i.reportOnce.Do(func() {
		i.wg.Add(1)
		go i.reportLoop()
	})
	return writer // Pass through unchanged
}

// BindRemoteStream is called by Pion when a new remote stream is detected.
// It extracts RTP header extension IDs and wraps the reader to observe packets.
func (i *BWEInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	// Start cleanup loop on first stream (only once)
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go i.cleanupLoop()
	})

	// Extract extension IDs (first stream to provide them wins)
	if absID := FindAbsSendTimeID(info.RTPHeaderExtensions); absID != 0 {
		i.absExtID.CompareAndSwap(0, uint32(absID))
	}
	if captureID := FindAbsCaptureTimeID(info.RTPHeaderExtensions); captureID != 0 {
		i.captureExtID.CompareAndSwap(0, uint32(captureID))
	}

	// Track stream
	state := newStreamState(info.SSRC)
	i.streams.Store(info.SSRC, state)

	// Return observing reader
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTP(b[:n], info.SSRC)
		}
		return n, a, err
	})
}

// UnbindRemoteStream is called by Pion when a remote stream is removed.
func (i *BWEInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	i.streams.Delete(info.SSRC)
}

// processRTP parses an RTP packet and feeds timing information to the estimator.
func (i *BWEInterceptor) processRTP(raw []byte, ssrc uint32) {
	// Parse RTP header
	var header rtp.Header
	if _, err := header.Unmarshal(raw); err != nil {
		return // Invalid RTP, skip
	}

	now := time.Now()

	// Update stream state
	if state, ok := i.streams.Load(ssrc); ok {
		state.(*streamState).UpdateLastPacket(now)
	}

	// Get extension IDs
	absID := uint8(i.absExtID.Load())
	captureID := uint8(i.captureExtID.Load())

	// Try abs-send-time first (preferred, 3 bytes)
	var sendTime uint32
	if absID != 0 {
		if extData := header.GetExtension(absID); len(extData) >= 3 {
			var ext rtp.AbsSendTimeExtension // Stack allocated - CRITICAL for 0 allocs/op
			if err := ext.Unmarshal(extData); err == nil {
				sendTime = uint32(ext.Timestamp) // Cast from uint64 to uint32 (24-bit fits)
			}
		}
	}

	// Fallback to abs-capture-time (8 bytes, convert to abs-send-time scale)
	if sendTime == 0 && captureID != 0 {
		if extData := header.GetExtension(captureID); len(extData) >= 8 {
			var ext rtp.AbsCaptureTimeExtension // Stack allocated - CRITICAL for 0 allocs/op
			if err := ext.Unmarshal(extData); err == nil {
				// Convert 64-bit UQ32.32 to 24-bit 6.18 fixed point
				// AbsCaptureTime: upper 32 bits = seconds, lower 32 bits = fraction
				// We need seconds (6 bits) + fraction (18 bits) = 24 bits total
				seconds := (ext.Timestamp >> 32) & 0x3F     // 6 bits of seconds (mod 64)
				fraction := (ext.Timestamp >> 14) & 0x3FFFF // 18 bits of fraction
				sendTime = uint32((seconds << 18) | fraction)
			}
		}
	}

	// No timing extension found, skip packet
	if sendTime == 0 {
		return
	}

	// Get PacketInfo from pool
	pkt := getPacketInfo()
	pkt.ArrivalTime = now
	pkt.SendTime = sendTime
	pkt.Size = len(raw)
	pkt.SSRC = ssrc

	// Feed to estimator (OnPacket takes by value, so dereference)
	i.estimator.OnPacket(*pkt)

	// Return to pool
	putPacketInfo(pkt)
}

// reportLoop runs periodically and reports the current estimate to the
// observer, using whatever SSRCs the estimator has seen so far.
func (i *BWEInterceptor) reportLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(i.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case <-ticker.C:
			if i.observer == nil {
				continue
			}
			i.observer.OnReceiveBitrateChanged(i.estimator.GetSSRCs(), uint64(i.estimator.GetEstimate()))
		}
	}
}

// cleanupLoop runs periodically to remove inactive streams.
// It checks every second and removes streams that haven't received
// packets for longer than streamTimeout (2 seconds).
func (i *BWEInterceptor) cleanupLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(time.Second) // Check every second
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case now := <-ticker.C:
			i.cleanupInactiveStreams(now)
		}
	}
}

// cleanupInactiveStreams removes streams that haven't received packets
// for longer than streamTimeout. Uses sync.Map.Range for thread-safe iteration.
func (i *BWEInterceptor) cleanupInactiveStreams(now time.Time) {
	i.streams.Range(func(key, value any) bool {
		state := value.(*streamState)
		if now.Sub(state.LastPacket()) > streamTimeout {
			i.streams.Delete(key)
		}
		return true // Continue iteration
	})
}
