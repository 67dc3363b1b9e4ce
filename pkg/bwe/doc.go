// Package bwe implements Google Congestion Control (GCC) receiver-side
// bandwidth estimation.
//
// BandwidthEstimator is the router's congestion-control collaborator: it
// has no RtpModule registration of its own and never touches the
// registry, the sequence allocator, or the REMB elector directly. It is
// wrapped as a Pion interceptor in pkg/bwe/interceptor, which reports
// estimates to whatever implements BitrateObserver — in production,
// directly to a *router.PacketRouter, which is the only thing that
// decides when and through which module a REMB actually goes out.
package bwe
