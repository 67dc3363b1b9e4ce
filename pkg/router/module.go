// Package router implements the packet router: the dispatch and feedback
// hub between a pacer/estimator and the per-stream RTP/RTCP send and
// receive modules of a real-time media transport.
//
// The router multiplexes pacer-driven send decisions to the correct
// outbound module by SSRC, allocates a single transport-wide sequence
// number space shared by every outbound module, and elects one module to
// carry REMB and transport-wide feedback traffic. It owns no modules and
// performs no I/O of its own; every side effect happens through the
// RtpModule interface a caller registers.
package router

// RtxSendStatus describes how a send module currently retransmits lost
// packets. It determines padding priority (see PacketRouter.TimeToSendPadding).
type RtxSendStatus int

const (
	// RtxOff means the module never retransmits; padding is least
	// desirable from it since it cannot piggyback useful payload.
	RtxOff RtxSendStatus = iota
	// RtxWithPayload means retransmissions reuse the original payload
	// type on the media SSRC.
	RtxWithPayload
	// RtxRedundantPayloads means retransmissions carry a dedicated RTX
	// payload type; padding sent through such a module is most useful
	// because it can double as a redundant copy of recent media.
	RtxRedundantPayloads
)

// String implements fmt.Stringer.
func (s RtxSendStatus) String() string {
	switch s {
	case RtxOff:
		return "Off"
	case RtxWithPayload:
		return "WithPayload"
	case RtxRedundantPayloads:
		return "RedundantPayloads"
	default:
		return "Unknown"
	}
}

// PacedPacketInfo carries pacer bookkeeping the router forwards to a
// module unexamined. The router never inspects its contents.
type PacedPacketInfo struct {
	// ProbeClusterID identifies the bandwidth-estimation probe cluster
	// this send decision belongs to, or 0 if this is not a probe.
	ProbeClusterID int
}

// RtpModule is the capability set the router needs from an RTP/RTCP send
// or receive module. Callers retain ownership of the concrete module;
// registering it with the router only borrows a reference until a
// matching removal. Implementations must be safe to call while the
// router's internal lock is held — see the doc comment on PacketRouter
// for the locking discipline this implies (non-blocking, non-reentrant
// with respect to the router).
type RtpModule interface {
	// SSRC returns the identifier of the stream this module currently
	// sends or receives. May change over time for a receive module that
	// is re-bound to a new stream.
	SSRC() uint32

	// SendingMedia reports whether the module is currently sending
	// media. May change over time (e.g. while a track is paused).
	SendingMedia() bool

	// TimeToSendPacket asks the module to send a previously-queued
	// packet for ssrc, using seq as the transport-wide sequence number
	// and captureTimeMs as its capture timestamp. Returns whether the
	// module handled the call.
	TimeToSendPacket(ssrc uint32, seq uint16, captureTimeMs int64, isRetransmit bool, pacedInfo PacedPacketInfo) bool

	// TimeToSendPadding asks the module to emit up to bytes of padding,
	// returning the number of bytes actually sent.
	TimeToSendPadding(bytes int, pacedInfo PacedPacketInfo) int

	// HasBweExtensions reports whether the module's RTP stream carries
	// the header extensions bandwidth estimation needs (e.g.
	// transport-wide sequence number, abs-send-time). A module without
	// them must not be offered padding: padding that is invisible to BWE
	// only wastes bandwidth.
	HasBweExtensions() bool

	// RtxSendStatus reports how the module retransmits, used to order
	// padding candidates. Sampled once at registration time.
	RtxSendStatus() RtxSendStatus

	// REMB reports whether the module currently advertises REMB as
	// active on the wire.
	REMB() bool

	// SetREMBStatus enables or disables REMB advertisement on the
	// module. Called by the router's elector whenever the active REMB
	// module changes.
	SetREMBStatus(active bool)

	// SetREMBData asks the module to emit a REMB RTCP packet for the
	// given bitrate estimate and contributing media SSRCs.
	SetREMBData(bitrateBps uint64, ssrcs []uint32)

	// SendFeedbackPacket asks the module to send a transport-wide
	// feedback RTCP packet, returning whether it was sent.
	SendFeedbackPacket(feedback Feedback) bool
}
