package fusion

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
)

type VendorResult struct {
	Vendor        string `json:"vendor"`
	Result        string `json:"result"`
	Category      string `json:"category,omitempty"`
	EngineVersion string `json:"engine_version,omitempty"`
}

// Detected reports whether the vendor flagged the object
func (v VendorResult) Detected() bool {
	r := strings.ToLower(v.Result)
	return r != "" && r != "clean" && r != "undetected" && r != "unrated" && r != "harmless"
}

// VendorResults lists per-engine verdicts from a VirusTotal payload, sorted by vendor
func VendorResults(vt Envelope) []VendorResult {
	scans := vt.Map("data", "attributes", "last_analysis_results").Raw()
	results := make([]VendorResult, 0, len(scans))

	for vendor := range scans {
		entry := vt.Map("data", "attributes", "last_analysis_results", vendor)
		result := entry.String("result")
		if result == "" && !entry.Has("result") {
			result = "clean"
		}
		results = append(results, VendorResult{
			Vendor:        vendor,
			Result:        result,
			Category:      entry.String("category"),
			EngineVersion: entry.String("engine_version"),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Vendor < results[j].Vendor })
	return results
}

// DetectionRatio formats detections/total, "0/0" when there are no vendors
func DetectionRatio(results []VendorResult) string {
	detections := 0
	for _, r := range results {
		if r.Detected() {
			detections++
		}
	}
	return fmt.Sprintf("%d/%d", detections, len(results))
}

type Reputation struct {
	Verdict    string   `json:"reputation,omitempty"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// ExtractReputation derives a coarse verdict plus categories and tags from VirusTotal
func ExtractReputation(vt Envelope) Reputation {
	rep := Reputation{Categories: []string{}, Tags: []string{}}
	attrs := vt.Map("data", "attributes")
	if attrs.Empty() {
		return rep
	}

	seen := map[string]bool{}
	for _, v := range attrs.Map("categories").Raw() {
		if s, ok := v.(string); ok && s != "" && !seen[s] {
			seen[s] = true
			rep.Categories = append(rep.Categories, s)
		}
	}
	sort.Strings(rep.Categories)

	for _, v := range attrs.Slice("tags") {
		if s, ok := v.(string); ok && s != "" {
			rep.Tags = append(rep.Tags, s)
		}
	}

	stats := attrs.Map("last_analysis_stats")
	switch {
	case stats.Float("malicious") > 0:
		rep.Verdict = "malicious"
	case stats.Float("suspicious") > 0:
		rep.Verdict = "suspicious"
	default:
		rep.Verdict = "clean"
	}
	return rep
}

type Timeline struct {
	FirstSeen *time.Time `json:"first_seen,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

func ExtractTimeline(vt Envelope) Timeline {
	var tl Timeline
	if v, ok := vt.FloatOK("data", "attributes", "first_submission_date"); ok && v > 0 {
		t := time.Unix(int64(v), 0).UTC()
		tl.FirstSeen = &t
	}
	if v, ok := vt.FloatOK("data", "attributes", "last_analysis_date"); ok && v > 0 {
		t := time.Unix(int64(v), 0).UTC()
		tl.LastSeen = &t
	}
	return tl
}

// ExtractGeolocation merges network facts from VirusTotal and AbuseIPDB. Only IPs have one.
func ExtractGeolocation(t indicator.Type, responses map[string]map[string]any) map[string]any {
	if t != indicator.TypeIP {
		return nil
	}

	geo := map[string]any{}
	put := func(key string, v any) {
		if v == nil {
			return
		}
		if s, ok := v.(string); ok && s == "" {
			return
		}
		geo[key] = v
	}

	if vt := responses[SourceVirusTotal]; vt != nil {
		attrs := NewEnvelope(vt).Map("data", "attributes")
		for _, k := range []string{"country", "asn", "as_owner", "network"} {
			v, _ := attrs.Path(k)
			put(k, v)
		}
	}
	if abuse := responses[SourceAbuseIPDB]; abuse != nil {
		data := NewEnvelope(abuse).Map("data")
		for key, field := range map[string]string{"country_code": "countryCode", "usage_type": "usageType", "isp": "isp"} {
			v, _ := data.Path(field)
			put(key, v)
		}
	}

	if len(geo) == 0 {
		return nil
	}
	return geo
}
