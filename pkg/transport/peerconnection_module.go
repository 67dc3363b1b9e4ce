// Package transport adapts pion/webrtc peer connections to
// github.com/thesyncim/packetrouter/pkg/router's RtpModule interface. The
// router stays transport-agnostic; this package is one concrete caller,
// wiring a real send or receive stream into a PacketRouter.
package transport

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/packetrouter/pkg/router"
)

const (
	defaultClockRateHz         = 90000
	defaultPaddingPayloadBytes = 255
)

// ModuleOption configures a PeerConnectionModule at construction time.
type ModuleOption func(*PeerConnectionModule)

// WithPayloadType sets the RTP payload type used when the module builds
// packets for TimeToSendPacket/TimeToSendPadding. Default 96 (common
// dynamic video payload type).
func WithPayloadType(pt webrtc.PayloadType) ModuleOption {
	return func(m *PeerConnectionModule) { m.payloadType = pt }
}

// WithClockRate sets the RTP clock rate in Hz used to convert the pacer's
// capture timestamp (milliseconds) into an RTP timestamp. Default 90000.
func WithClockRate(hz uint32) ModuleOption {
	return func(m *PeerConnectionModule) { m.clockRateHz = hz }
}

// WithBweExtensions marks the module as carrying the header extensions the
// bandwidth estimator needs (abs-send-time or abs-capture-time), making it
// eligible to receive padding requests.
func WithBweExtensions(has bool) ModuleOption {
	return func(m *PeerConnectionModule) { m.hasBweExtensions = has }
}

// WithRtxSendStatus sets the module's initial retransmission capability,
// used by the router to rank padding candidates.
func WithRtxSendStatus(s router.RtxSendStatus) ModuleOption {
	return func(m *PeerConnectionModule) { m.rtx = s }
}

// WithSendingMedia sets whether the module starts out actively sending.
func WithSendingMedia(sending bool) ModuleOption {
	return func(m *PeerConnectionModule) { m.sendingMedia = sending }
}

// PeerConnectionModule is a router.RtpModule backed by a pion PeerConnection.
// A send-direction module is constructed with a local track it writes
// packets to when the router calls TimeToSendPacket/TimeToSendPadding; a
// receive-direction module is constructed with track set to nil and exists
// to carry REMB/transport-wide-feedback RTCP traffic back to the remote
// sender via the peer connection's RTCP writer. A single instance is never
// both: SendingMedia is permanently false when track is nil.
type PeerConnectionModule struct {
	mu sync.Mutex

	ssrc uint32
	pc   *webrtc.PeerConnection
	// track is nil for a receive-direction module.
	track *webrtc.TrackLocalStaticRTP

	payloadType      webrtc.PayloadType
	clockRateHz      uint32
	sendingMedia     bool
	hasBweExtensions bool
	rtx              router.RtxSendStatus
	rembActive       bool
}

// NewSendModule adapts a local track as the send-direction half of an RTP
// stream. pc is used to write the RTCP feedback the router routes to this
// module (e.g. when it is elected Active REMB Module).
func NewSendModule(ssrc uint32, track *webrtc.TrackLocalStaticRTP, pc *webrtc.PeerConnection, opts ...ModuleOption) *PeerConnectionModule {
	m := newModule(ssrc, pc, opts...)
	m.track = track
	return m
}

// NewReceiveModule adapts the receive-direction half of a peer connection:
// no outbound media, but still a valid target for REMB election and
// feedback routing so the remote sender hears back from us.
func NewReceiveModule(ssrc uint32, pc *webrtc.PeerConnection, opts ...ModuleOption) *PeerConnectionModule {
	return newModule(ssrc, pc, opts...)
}

func newModule(ssrc uint32, pc *webrtc.PeerConnection, opts ...ModuleOption) *PeerConnectionModule {
	m := &PeerConnectionModule{
		ssrc:        ssrc,
		pc:          pc,
		payloadType: 96,
		clockRateHz: defaultClockRateHz,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SSRC implements router.RtpModule.
func (m *PeerConnectionModule) SSRC() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ssrc
}

// SendingMedia implements router.RtpModule. A receive-direction module
// (track == nil) never reports true.
func (m *PeerConnectionModule) SendingMedia() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.track != nil && m.sendingMedia
}

// SetSendingMedia toggles whether this send-direction module is actively
// sending. No-op on a receive-direction module.
func (m *PeerConnectionModule) SetSendingMedia(sending bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendingMedia = sending
}

// HasBweExtensions implements router.RtpModule.
func (m *PeerConnectionModule) HasBweExtensions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasBweExtensions
}

// RtxSendStatus implements router.RtpModule.
func (m *PeerConnectionModule) RtxSendStatus() router.RtxSendStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtx
}

// REMB implements router.RtpModule.
func (m *PeerConnectionModule) REMB() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rembActive
}

// SetREMBStatus implements router.RtpModule.
func (m *PeerConnectionModule) SetREMBStatus(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rembActive = active
}

// TimeToSendPacket implements router.RtpModule. It builds a minimal RTP
// packet carrying the router-allocated sequence number and writes it to
// the bound local track. The router never supplies payload bytes (it does
// not buffer or construct media, per its non-goals); the payload here is a
// fixed filler large enough to be a plausible wire packet, standing in for
// whatever a real encoder would have queued for this send slot.
func (m *PeerConnectionModule) TimeToSendPacket(ssrc uint32, seq uint16, captureTimeMs int64, isRetransmit bool, pacedInfo router.PacedPacketInfo) bool {
	m.mu.Lock()
	track := m.track
	pt := m.payloadType
	clockRate := m.clockRateHz
	m.mu.Unlock()

	if track == nil {
		return false
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    uint8(pt),
			SequenceNumber: seq,
			Timestamp:      uint32((captureTimeMs * int64(clockRate)) / 1000),
			SSRC:           ssrc,
		},
		Payload: make([]byte, 1),
	}
	return track.WriteRTP(pkt) == nil
}

// TimeToSendPadding implements router.RtpModule. It writes a single RTP
// padding packet (RFC 3550 §5.1) sized to approximate requestedBytes and
// reports how many bytes it actually consumed.
func (m *PeerConnectionModule) TimeToSendPadding(requestedBytes int, pacedInfo router.PacedPacketInfo) int {
	m.mu.Lock()
	track := m.track
	ssrc := m.ssrc
	pt := m.payloadType
	m.mu.Unlock()

	if track == nil || requestedBytes <= 0 {
		return 0
	}

	size := requestedBytes
	if size > defaultPaddingPayloadBytes {
		size = defaultPaddingPayloadBytes
	}
	payload := make([]byte, size)
	payload[size-1] = byte(size)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			Padding:     true,
			PayloadType: uint8(pt),
			SSRC:        ssrc,
		},
		Payload: payload,
	}
	if track.WriteRTP(pkt) != nil {
		return 0
	}
	return size
}

// SetREMBData implements router.RtpModule by marshaling and sending a REMB
// RTCP packet over the peer connection.
func (m *PeerConnectionModule) SetREMBData(bitrateBps uint64, ssrcs []uint32) {
	m.mu.Lock()
	pc := m.pc
	senderSSRC := m.ssrc
	m.mu.Unlock()

	if pc == nil {
		return
	}
	pkt := &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: senderSSRC,
		Bitrate:    float32(bitrateBps),
		SSRCs:      ssrcs,
	}
	_ = pc.WriteRTCP([]rtcp.Packet{pkt})
}

// SendFeedbackPacket implements router.RtpModule by writing feedback out
// over the peer connection's RTCP path.
func (m *PeerConnectionModule) SendFeedbackPacket(feedback router.Feedback) bool {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()

	if pc == nil {
		return false
	}
	return pc.WriteRTCP([]rtcp.Packet{feedback}) == nil
}
