package eddystone

import (
	"fmt"
	"strings"
)

// maxEncodedURLBody is the longest URL body after the scheme byte.
const maxEncodedURLBody = 17

// urlSchemes is indexed by the scheme prefix byte. Longer prefixes
// are listed before their shorter forms so matching picks them first.
var urlSchemes = [...]string{
	0x00: "http://www.",
	0x01: "https://www.",
	0x02: "http://",
	0x03: "https://",
}

// urlExpansions is indexed by the expansion code. Codes with a trailing
// slash come first so ".com/" wins over ".com".
var urlExpansions = [...]string{
	0x00: ".com/",
	0x01: ".org/",
	0x02: ".edu/",
	0x03: ".net/",
	0x04: ".info/",
	0x05: ".biz/",
	0x06: ".gov/",
	0x07: ".com",
	0x08: ".org",
	0x09: ".edu",
	0x0a: ".net",
	0x0b: ".info",
	0x0c: ".biz",
	0x0d: ".gov",
}

// EncodeURL compresses rawURL into a URL frame payload: the scheme byte
// followed by the body with expansion codes substituted.
func EncodeURL(rawURL string) ([]byte, error) {
	scheme := -1
	// Prefer the longest matching scheme: "https://www." over "https://".
	for code, prefix := range urlSchemes {
		if strings.HasPrefix(rawURL, prefix) &&
			(scheme < 0 || len(prefix) > len(urlSchemes[scheme])) {
			scheme = code
		}
	}
	if scheme < 0 {
		return nil, fmt.Errorf("%w: %q has no http or https scheme", ErrInvalidURL, rawURL)
	}

	rest := rawURL[len(urlSchemes[scheme]):]
	out := []byte{byte(scheme)}

	for len(rest) > 0 {
		matched := false
		for code, exp := range urlExpansions {
			if strings.HasPrefix(rest, exp) {
				out = append(out, byte(code))
				rest = rest[len(exp):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		c := rest[0]
		if c <= 0x20 || c >= 0x7f {
			return nil, fmt.Errorf("%w: byte 0x%02x is not encodable", ErrInvalidURL, c)
		}
		out = append(out, c)
		rest = rest[1:]
	}

	if len(out)-1 > maxEncodedURLBody {
		return nil, fmt.Errorf("%w: %d bytes after compression", ErrURLTooLong, len(out)-1)
	}
	return out, nil
}

// DecodeURL expands a URL frame payload back into a URL string.
func DecodeURL(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidURL)
	}
	if int(payload[0]) >= len(urlSchemes) {
		return "", fmt.Errorf("%w: scheme code 0x%02x", ErrInvalidURL, payload[0])
	}

	var sb strings.Builder
	sb.WriteString(urlSchemes[payload[0]])
	for _, c := range payload[1:] {
		switch {
		case int(c) < len(urlExpansions):
			sb.WriteString(urlExpansions[c])
		case c <= 0x20 || c >= 0x7f:
			return "", fmt.Errorf("%w: reserved byte 0x%02x", ErrInvalidURL, c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}
