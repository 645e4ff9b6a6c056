// Package interceptor provides a Pion WebRTC interceptor that turns a live
// sending session into a telemetry source for the adaptive bitrate
// controller. It accounts outbound RTP per stream and folds incoming RTCP
// receiver reports into TransportSamples: round-trip time from LSR/DLSR,
// fraction lost, cumulative acknowledged packets, in-flight backlog and
// sliding-window outbound throughput.
package interceptor
