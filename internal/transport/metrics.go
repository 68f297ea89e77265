package transport

// Metrics is a snapshot of the connection's current health, used to drive
// the adaptive bitrate ladder and surfaced to the orchestrator for
// diagnostics.
type Metrics struct {
	RTTMs           float64 `json:"rtt_ms"`
	PacketLoss      float64 `json:"packet_loss"` // 0.0-1.0
	JitterMs        float64 `json:"jitter_ms"`
	BitrateKbps     float64 `json:"bitrate_kbps"`
	OpusTargetKbps  int     `json:"opus_target_kbps"`
	QualityLevel    string  `json:"quality_level"` // "good", "moderate", "poor"
	CaptureDropped  uint64  `json:"capture_dropped"`
	PlaybackDropped uint64  `json:"playback_dropped"`
}

// qualityLevel classifies connection quality from its component metrics.
// Thresholds: good (loss<2%, RTT<100ms, jitter<20ms, drops<1/s), moderate
// (loss<10%, RTT<300ms, jitter<50ms, drops<5/s), poor otherwise.
func qualityLevel(loss, rttMs, jitterMs, dropRate float64) string {
	if loss >= 0.10 || rttMs >= 300 || jitterMs >= 50 || dropRate >= 5 {
		return "poor"
	}
	if loss >= 0.02 || rttMs >= 100 || jitterMs >= 20 || dropRate >= 1 {
		return "moderate"
	}
	return "good"
}

// ewmaAlpha is the smoothing factor used for both RTT and jitter, matching
// the 1/16 weighting RFC 6298 uses for RTT smoothing.
const ewmaAlpha = 1.0 / 16

func ewma(old, sample float64) float64 {
	if old == 0 {
		return sample
	}
	return old + ewmaAlpha*(sample-old)
}
