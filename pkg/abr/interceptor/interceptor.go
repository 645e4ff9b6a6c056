package interceptor

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/streamware/abr/pkg/abr"
)

// maxPlausibleRTTMs rejects LSR/DLSR arithmetic gone wrong (e.g. a peer
// echoing garbage timestamps).
const maxPlausibleRTTMs = 60_000

// StatsInterceptor observes a sending PeerConnection and implements
// abr.StatsSource for it. Outbound RTP packets are counted per stream;
// incoming receiver reports provide RTT (now - LSR - DLSR over mid-32 NTP
// time), fraction lost, and the extended highest received sequence, from
// which the in-flight backlog and a cumulative acknowledgment counter are
// derived.
//
// Register it on the sender's interceptor registry alongside the default
// report interceptors: the RTT calculation relies on the session emitting
// sender reports with real NTP timestamps.
type StatsInterceptor struct {
	interceptor.NoOp

	log logging.LeveledLogger

	mu         sync.Mutex
	streams    map[uint32]*streamState
	rate       *rateWindow
	rttMs      int
	lossPct    float64
	ackCount   uint64
	haveReport bool
}

// InterceptorOption configures a StatsInterceptor.
type InterceptorOption func(*StatsInterceptor)

// WithLogger sets the interceptor's logger.
func WithLogger(log logging.LeveledLogger) InterceptorOption {
	return func(i *StatsInterceptor) { i.log = log }
}

// NewStatsInterceptor creates a stats interceptor.
func NewStatsInterceptor(opts ...InterceptorOption) *StatsInterceptor {
	i := &StatsInterceptor{
		streams: make(map[uint32]*streamState),
		rate:    newRateWindow(defaultRateWindow),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logging.NewDefaultLoggerFactory().NewLogger("abr_interceptor")
	}
	return i
}

// BindLocalStream wraps the writer for an outbound stream to account every
// packet it sends.
func (i *StatsInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	i.mu.Lock()
	i.streams[info.SSRC] = newStreamState(info.SSRC)
	i.mu.Unlock()

	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attributes interceptor.Attributes) (int, error) {
		n, err := writer.Write(header, payload, attributes)
		if err == nil {
			i.recordOutbound(info.SSRC, header.SequenceNumber, header.MarshalSize()+len(payload))
		}
		return n, err
	})
}

// UnbindLocalStream stops tracking a removed stream.
func (i *StatsInterceptor) UnbindLocalStream(info *interceptor.StreamInfo) {
	i.mu.Lock()
	delete(i.streams, info.SSRC)
	i.mu.Unlock()
}

// BindRTCPReader wraps the RTCP reader to observe incoming reports.
func (i *StatsInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			if pkts, perr := rtcp.Unmarshal(b[:n]); perr == nil {
				i.processReports(pkts, time.Now())
			}
		}
		return n, a, err
	})
}

// Sample implements abr.StatsSource. It returns abr.ErrNoSample until the
// first reception report arrives.
func (i *StatsInterceptor) Sample() (abr.TransportSample, error) {
	now := time.Now()

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.haveReport {
		return abr.TransportSample{}, abr.ErrNoSample
	}

	inflight := 0
	for _, st := range i.streams {
		inflight += st.inflight()
	}
	var throughputMbps float64
	if bps, ok := i.rate.rate(now); ok {
		throughputMbps = float64(bps) / 1e6
	}

	return abr.TransportSample{
		RTTMs:          i.rttMs,
		SendBufferSize: inflight,
		ThroughputMbps: throughputMbps,
		PacketLossPct:  i.lossPct,
		AckCount:       i.ackCount,
		Timestamp:      now,
	}, nil
}

func (i *StatsInterceptor) recordOutbound(ssrc uint32, seq uint16, bytes int) {
	now := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.streams[ssrc]
	if !ok {
		return
	}
	st.recordSent(seq)
	i.rate.add(int64(bytes), now)
}

// processReports folds the reception reports of receiver and sender report
// packets into the latest telemetry values.
func (i *StatsInterceptor) processReports(pkts []rtcp.Packet, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, pkt := range pkts {
		var reports []rtcp.ReceptionReport
		switch p := pkt.(type) {
		case *rtcp.ReceiverReport:
			reports = p.Reports
		case *rtcp.SenderReport:
			reports = p.Reports
		default:
			continue
		}

		for _, report := range reports {
			st, ok := i.streams[report.SSRC]
			if !ok {
				continue
			}
			i.haveReport = true
			i.ackCount += st.recordAcked(report.LastSequenceNumber)
			i.lossPct = float64(report.FractionLost) / 256 * 100

			if report.LastSenderReport != 0 {
				if rttMs, ok := rttFromReport(report, now); ok {
					i.rttMs = rttMs
				}
			}
		}
	}
}

// rttFromReport computes the round-trip time from a reception report:
// now - LSR - DLSR, all in mid-32 NTP units of 1/65536 s.
func rttFromReport(report rtcp.ReceptionReport, now time.Time) (int, bool) {
	elapsed := ntpTime32(now) - report.LastSenderReport - report.Delay
	rttMs := int(float64(elapsed) * 1000 / 65536)
	if rttMs < 0 || rttMs > maxPlausibleRTTMs {
		return 0, false
	}
	return rttMs, true
}
