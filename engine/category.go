package engine

import "strings"

// ErrorCategory classifies bus errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown ErrorCategory = iota
	// ErrCategoryResource indicates device or file failures (busy, missing, permissions)
	ErrCategoryResource
	// ErrCategoryCodec indicates negotiation or encode/decode failures
	ErrCategoryCodec
	// ErrCategoryNetwork indicates socket or transport failures
	ErrCategoryNetwork
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
)

// String returns a human-readable string representation of the error category
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials",
	}
	resourceKeywords = []string{
		"device or resource busy", "busy", "permission denied", "no such file",
		"could not open", "cannot identify device", "not a capture device",
		"could not write", "no space left",
	}
	codecKeywords = []string{
		"not-negotiated", "not negotiated", "negotiation", "caps", "codec", "decode", "encode",
		"format", "no decoder", "missing plugin",
	}
	networkKeywords = []string{
		"socket", "connection", "timeout", "unreachable", "network", "broken pipe",
		"could not connect", "failed to connect",
	}
)

// Classify categorizes an engine error from its message and debug string.
//
// Matching is keyword based; auth is checked first, then resource, codec and
// network.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)
	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
