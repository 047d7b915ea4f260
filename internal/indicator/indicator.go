package indicator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnsupported is returned when an indicator matches none of the known shapes
var ErrUnsupported = errors.New("unsupported indicator")

type Type string

const (
	TypeIP     Type = "ip"
	TypeDomain Type = "domain"
	TypeURL    Type = "url"
	TypeHash   Type = "hash"
	TypeEmail  Type = "email"
)

var (
	domainPattern = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	hashPattern   = regexp.MustCompile(`^[a-f0-9]+$`)
	emailPattern  = regexp.MustCompile(`^[\w.+-]+@[\w.-]+\.[a-z]{2,}$`)
)

// Normalize trims and lower-cases raw input
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Classify determines the indicator type. Checks run in a fixed order and the first match wins.
func Classify(raw string) (Type, error) {
	s := Normalize(raw)
	if s == "" {
		return "", ErrUnsupported
	}

	switch {
	case isIPv4(s):
		return TypeIP, nil
	case hasScheme(s):
		return TypeURL, nil
	case domainPattern.MatchString(s):
		return TypeDomain, nil
	case isHash(s):
		return TypeHash, nil
	case emailPattern.MatchString(s):
		return TypeEmail, nil
	}

	return "", ErrUnsupported
}

func ParseType(s string) (Type, error) {
	switch t := Type(Normalize(s)); t {
	case TypeIP, TypeDomain, TypeURL, TypeHash, TypeEmail:
		return t, nil
	}
	return "", fmt.Errorf("%w: type %q", ErrUnsupported, s)
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func hasScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isHash(s string) bool {
	switch len(s) {
	case 32, 40, 64:
		return hashPattern.MatchString(s)
	}
	return false
}

// URLID encodes a URL the way VirusTotal identifies it: URL-safe base64 without padding.
// The raw value is only trimmed, since URL paths are case sensitive.
func URLID(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strings.TrimSpace(raw)))
}

// EmailDomain returns the part after the last '@', or "" when there is none
func EmailDomain(raw string) string {
	s := Normalize(raw)
	i := strings.LastIndex(s, "@")
	if i < 0 || i == len(s)-1 {
		return ""
	}
	return s[i+1:]
}
