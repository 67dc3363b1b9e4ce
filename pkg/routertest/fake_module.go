package routertest

import (
	"sync"

	"github.com/pion/rtcp"

	"github.com/thesyncim/packetrouter/pkg/router"
)

// PacketCall records one TimeToSendPacket invocation for assertions.
type PacketCall struct {
	SSRC          uint32
	Seq           uint16
	CaptureTimeMs int64
	IsRetransmit  bool
	PacedInfo     router.PacedPacketInfo
}

// PaddingCall records one TimeToSendPadding invocation for assertions.
type PaddingCall struct {
	Bytes     int
	PacedInfo router.PacedPacketInfo
}

// FakeModule is a scriptable router.RtpModule test double. Zero value is
// not sending media, has no BWE extensions, and RTX off; set fields (or
// use the Set* methods) before registering it with a PacketRouter.
type FakeModule struct {
	mu sync.Mutex

	ssrc          uint32
	sendingMedia  bool
	bweExtensions bool
	rtxStatus     router.RtxSendStatus
	rembActive    bool

	// PacketResult is returned by TimeToSendPacket.
	PacketResult bool
	// PaddingResult, if non-negative, caps the bytes TimeToSendPadding
	// reports as sent; a negative value (the default) means "send
	// everything requested".
	PaddingResult int
	// FeedbackResult is returned by SendFeedbackPacket.
	FeedbackResult bool

	PacketCalls   []PacketCall
	PaddingCalls  []PaddingCall
	FeedbackCalls int

	// LastREMB is the most recent REMB state pushed via SetREMBData,
	// marshaled through a real pion/rtcp packet so tests can assert on
	// wire-shaped values rather than just the raw arguments.
	LastREMB *rtcp.ReceiverEstimatedMaximumBitrate
}

// NewFakeModule creates a FakeModule for ssrc that is not yet sending
// media and has no BWE extensions. PaddingResult defaults to -1 ("send
// the full request").
func NewFakeModule(ssrc uint32) *FakeModule {
	return &FakeModule{ssrc: ssrc, PaddingResult: -1}
}

// SetSSRC changes the SSRC the module reports, simulating a receive
// module being re-bound to a new stream.
func (m *FakeModule) SetSSRC(ssrc uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ssrc = ssrc
}

// SetSendingMedia sets what SendingMedia reports.
func (m *FakeModule) SetSendingMedia(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendingMedia = v
}

// SetHasBweExtensions sets what HasBweExtensions reports.
func (m *FakeModule) SetHasBweExtensions(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bweExtensions = v
}

// SetRtxSendStatus sets the RTX status sampled by the router at
// registration time. Changing it after registration has no effect on
// that registration's cached padding priority.
func (m *FakeModule) SetRtxSendStatus(s router.RtxSendStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtxStatus = s
}

// SSRC implements router.RtpModule.
func (m *FakeModule) SSRC() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ssrc
}

// SendingMedia implements router.RtpModule.
func (m *FakeModule) SendingMedia() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendingMedia
}

// HasBweExtensions implements router.RtpModule.
func (m *FakeModule) HasBweExtensions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bweExtensions
}

// RtxSendStatus implements router.RtpModule.
func (m *FakeModule) RtxSendStatus() router.RtxSendStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtxStatus
}

// REMB implements router.RtpModule.
func (m *FakeModule) REMB() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rembActive
}

// SetREMBStatus implements router.RtpModule.
func (m *FakeModule) SetREMBStatus(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rembActive = active
}

// TimeToSendPacket implements router.RtpModule, recording the call and
// returning PacketResult.
func (m *FakeModule) TimeToSendPacket(ssrc uint32, seq uint16, captureTimeMs int64, isRetransmit bool, pacedInfo router.PacedPacketInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PacketCalls = append(m.PacketCalls, PacketCall{
		SSRC: ssrc, Seq: seq, CaptureTimeMs: captureTimeMs, IsRetransmit: isRetransmit, PacedInfo: pacedInfo,
	})
	return m.PacketResult
}

// TimeToSendPadding implements router.RtpModule, recording the call and
// reporting min(bytes, PaddingResult) bytes sent (or all of bytes if
// PaddingResult is negative).
func (m *FakeModule) TimeToSendPadding(bytes int, pacedInfo router.PacedPacketInfo) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaddingCalls = append(m.PaddingCalls, PaddingCall{Bytes: bytes, PacedInfo: pacedInfo})
	if m.PaddingResult < 0 || m.PaddingResult >= bytes {
		return bytes
	}
	return m.PaddingResult
}

// SetREMBData implements router.RtpModule, marshaling a real
// *rtcp.ReceiverEstimatedMaximumBitrate so assertions can inspect a
// wire-shaped value instead of the raw arguments.
func (m *FakeModule) SetREMBData(bitrateBps uint64, ssrcs []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastREMB = &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: m.ssrc,
		Bitrate:    float32(bitrateBps),
		SSRCs:      ssrcs,
	}
}

// SendFeedbackPacket implements router.RtpModule, recording the call and
// returning FeedbackResult.
func (m *FakeModule) SendFeedbackPacket(feedback router.Feedback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedbackCalls++
	return m.FeedbackResult
}
