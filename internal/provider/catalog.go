package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
)

// Endpoint is one allow-listed provider operation
type Endpoint struct {
	Method string
	Path   string // may contain {name} placeholders
}

type Catalog map[string]Endpoint

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Resolve looks up name and substitutes path placeholders with escaped values.
// An unknown name, a placeholder without a value, or a dot segment that would
// climb out of the template all mean the request cannot be routed.
func (c Catalog) Resolve(name string, params map[string]string) (Endpoint, string, error) {
	ep, ok := c[name]
	if !ok {
		return Endpoint{}, "", fmt.Errorf("%w: %q", ErrUnsupportedEndpoint, name)
	}

	var missing string
	path := placeholderPattern.ReplaceAllStringFunc(ep.Path, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := params[key]
		if !ok || v == "" || v == "." || v == ".." {
			if missing == "" {
				missing = key
			}
			return m
		}
		return url.PathEscape(v)
	})
	if missing != "" {
		return Endpoint{}, "", fmt.Errorf("%w: %q has no usable path parameter %q", ErrUnsupportedEndpoint, name, missing)
	}

	return ep, path, nil
}

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Static description of an upstream provider
type Definition struct {
	Name       string
	BaseURL    string
	AuthHeader string
	Catalog    Catalog
}

const (
	VirusTotal = "virustotal"
	AbuseIPDB  = "abuseipdb"
	URLScan    = "urlscan"
)

func VirusTotalDefinition() Definition {
	return Definition{
		Name:       VirusTotal,
		BaseURL:    "https://www.virustotal.com/api/v3",
		AuthHeader: "x-apikey",
		Catalog: Catalog{
			"get_file_report":   {http.MethodGet, "/files/{file_id}"},
			"scan_url":          {http.MethodPost, "/urls"},
			"get_url_report":    {http.MethodGet, "/urls/{url_id}"},
			"get_ip_report":     {http.MethodGet, "/ip_addresses/{ip}"},
			"get_domain_report": {http.MethodGet, "/domains/{domain}"},
			"get_analysis":      {http.MethodGet, "/analyses/{analysis_id}"},
			"get_relationship":  {http.MethodGet, "/{object_type}/{object_id}/{relationship}"},
		},
	}
}

func AbuseIPDBDefinition() Definition {
	return Definition{
		Name:       AbuseIPDB,
		BaseURL:    "https://api.abuseipdb.com/api/v2",
		AuthHeader: "Key",
		Catalog: Catalog{
			"check_ip": {http.MethodGet, "/check"},
		},
	}
}

func URLScanDefinition() Definition {
	return Definition{
		Name:       URLScan,
		BaseURL:    "https://urlscan.io/api/v1",
		AuthHeader: "API-Key",
		Catalog: Catalog{
			"submit_scan": {http.MethodPost, "/scan/"},
			"get_result":  {http.MethodGet, "/result/{scan_id}"},
		},
	}
}

// Definitions returns every shipped provider keyed by name
func Definitions() map[string]Definition {
	return map[string]Definition{
		VirusTotal: VirusTotalDefinition(),
		AbuseIPDB:  AbuseIPDBDefinition(),
		URLScan:    URLScanDefinition(),
	}
}
