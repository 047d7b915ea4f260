package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type fingerprintInput struct {
	Endpoint string            `json:"endpoint"`
	Path     map[string]string `json:"path"`
	Query    map[string]string `json:"query"`
	Body     any               `json:"body"`
}

// Fingerprint hashes a logical request. encoding/json writes map keys in
// sorted order at every depth, so equivalent maps always collide.
func Fingerprint(endpoint string, pathParams, query map[string]string, body any) string {
	if pathParams == nil {
		pathParams = map[string]string{}
	}
	if query == nil {
		query = map[string]string{}
	}

	data, err := json.Marshal(fingerprintInput{
		Endpoint: endpoint,
		Path:     pathParams,
		Query:    query,
		Body:     canonicalBody(body),
	})
	if err != nil {
		// unmarshalable bodies are never cacheable
		return ""
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Raw JSON bodies are decoded so key order in the original bytes does not matter
func canonicalBody(body any) any {
	raw, ok := body.([]byte)
	if !ok {
		if rm, isRaw := body.(json.RawMessage); isRaw {
			raw, ok = rm, true
		}
	}
	if !ok {
		return body
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}
