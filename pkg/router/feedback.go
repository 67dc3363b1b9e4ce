package router

import "github.com/pion/rtcp"

// Feedback is the RTCP packet type routed by SendTransportFeedback — most
// commonly a *rtcp.TransportLayerCC, but any RTCP packet a module knows
// how to send is accepted. The router never inspects or mutates it; it
// only chooses which registered module gets the call.
type Feedback = rtcp.Packet

// sendTransportFeedback tries every send module in insertion order, then
// every receive module, returning on the first one whose
// SendFeedbackPacket succeeds. The caller retains ownership of feedback;
// the router neither retains nor retries it.
func sendTransportFeedback(send, receive []*moduleEntry, feedback Feedback) bool {
	for _, e := range send {
		if e.handle.SendFeedbackPacket(feedback) {
			return true
		}
	}
	for _, e := range receive {
		if e.handle.SendFeedbackPacket(feedback) {
			return true
		}
	}
	return false
}
