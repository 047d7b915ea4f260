package provider

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	catalog := VirusTotalDefinition().Catalog

	ep, path, err := catalog.Resolve("get_domain_report", map[string]string{"domain": "example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, ep.Method)
	assert.Equal(t, "/domains/example.com", path)

	_, path, err = catalog.Resolve("scan_url", nil)
	require.NoError(t, err)
	assert.Equal(t, "/urls", path)
}

func TestResolveRejects(t *testing.T) {
	catalog := VirusTotalDefinition().Catalog

	_, _, err := catalog.Resolve("get_comments", nil)
	assert.ErrorIs(t, err, ErrUnsupportedEndpoint)

	_, _, err = catalog.Resolve("get_relationship", map[string]string{"object_type": "files", "object_id": "x"})
	assert.ErrorIs(t, err, ErrUnsupportedEndpoint)
	assert.Contains(t, err.Error(), "relationship")

	for _, v := range []string{"", ".", ".."} {
		_, _, err = catalog.Resolve("get_domain_report", map[string]string{"domain": v})
		assert.ErrorIs(t, err, ErrUnsupportedEndpoint, "domain=%q", v)
	}

	// dots inside a value are fine
	_, path, err := catalog.Resolve("get_domain_report", map[string]string{"domain": "..example.com"})
	require.NoError(t, err)
	assert.Equal(t, "/domains/..example.com", path)
}

func TestShippedCatalogs(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 3)

	assert.Equal(t, []string{
		"get_analysis", "get_domain_report", "get_file_report", "get_ip_report",
		"get_relationship", "get_url_report", "scan_url",
	}, defs[VirusTotal].Catalog.Names())
	assert.Equal(t, []string{"check_ip"}, defs[AbuseIPDB].Catalog.Names())
	assert.Equal(t, []string{"get_result", "submit_scan"}, defs[URLScan].Catalog.Names())
	assert.Equal(t, "x-apikey", defs[VirusTotal].AuthHeader)
}
