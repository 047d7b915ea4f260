package analysis

import (
	"fmt"

	"github.com/aman-churiwal/ioc-gateway/internal/indicator"
	"github.com/aman-churiwal/ioc-gateway/internal/provider"
)

// call is one provider operation needed to analyse an indicator
type call struct {
	provider   string
	endpoint   string
	pathParams map[string]string
	query      map[string]string
	primary    bool
}

// route maps an indicator to the provider calls that describe it. Secondary
// providers are only included when they have credentials.
func route(value string, t indicator.Type, configured func(string) bool) ([]call, error) {
	v := indicator.Normalize(value)

	var primary call
	switch t {
	case indicator.TypeIP:
		primary = call{endpoint: "get_ip_report", pathParams: map[string]string{"ip": v}}
	case indicator.TypeDomain:
		primary = call{endpoint: "get_domain_report", pathParams: map[string]string{"domain": v}}
	case indicator.TypeURL:
		primary = call{endpoint: "get_url_report", pathParams: map[string]string{"url_id": indicator.URLID(value)}}
	case indicator.TypeHash:
		primary = call{endpoint: "get_file_report", pathParams: map[string]string{"file_id": v}}
	case indicator.TypeEmail:
		domain := indicator.EmailDomain(v)
		if domain == "" {
			return nil, fmt.Errorf("%w: email without domain", indicator.ErrUnsupported)
		}
		primary = call{endpoint: "get_domain_report", pathParams: map[string]string{"domain": domain}}
	default:
		return nil, fmt.Errorf("%w: type %q", indicator.ErrUnsupported, t)
	}
	primary.provider = provider.VirusTotal
	primary.primary = true

	calls := []call{primary}

	switch t {
	case indicator.TypeIP:
		if configured(provider.AbuseIPDB) {
			calls = append(calls, call{
				provider: provider.AbuseIPDB,
				endpoint: "check_ip",
				query:    map[string]string{"ipAddress": v, "maxAgeInDays": "90"},
			})
		}
	case indicator.TypeURL:
		if configured(provider.URLScan) {
			calls = append(calls, call{
				provider:   provider.URLScan,
				endpoint:   "get_result",
				pathParams: map[string]string{"scan_id": indicator.URLID(value)},
			})
		}
	}

	return calls, nil
}
