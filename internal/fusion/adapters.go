package fusion

import "math"

// Adapter maps one source's payload to (score, confidence), both in [0,1]
type Adapter func(Envelope) (score, confidence float64)

const vtFullEngineSet = 70.0

// VirusTotal scores the share of engines flagging the object. A share of half
// the engines or more is treated as full consensus.
func VirusTotalAdapter(e Envelope) (float64, float64) {
	stats := e.Map("data", "attributes", "last_analysis_stats")
	if stats.Empty() {
		return 0, 0
	}

	// type-unsupported, timeout and failure are engines that gave no verdict
	malicious := math.Max(0, stats.Float("malicious"))
	suspicious := math.Max(0, stats.Float("suspicious"))
	total := malicious + suspicious + math.Max(0, stats.Float("harmless")) + math.Max(0, stats.Float("undetected"))
	if total == 0 {
		return 0, 0
	}

	ratio := (malicious + 0.5*suspicious) / total

	score := math.Min(1, ratio/0.5)
	confidence := math.Min(total/vtFullEngineSet, 1)
	return score, confidence
}

func AbuseIPDBAdapter(e Envelope) (float64, float64) {
	v, ok := e.FloatOK("data", "abuseConfidenceScore")
	if !ok {
		return 0, 0
	}

	score := v / 100
	if score > 0 {
		return score, 0.8
	}
	return score, 0.3
}

func URLScanAdapter(e Envelope) (float64, float64) {
	overall := e.Map("verdicts", "overall")
	if overall.Empty() {
		return 0, 0
	}

	score := overall.Float("score") / 100
	if overall.Bool("malicious") {
		score = 1
	}
	return score, 0.6
}

// Enrichment sources publish their own top-level score and confidence
func EnrichmentAdapter(e Envelope) (float64, float64) {
	return e.Float("score"), e.Float("confidence")
}
