package service

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// normalizeCode trims and upper-cases organization and entity codes.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// normalizeDescriptors collapses whitespace and drops empty and duplicate entries.
func normalizeDescriptors(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = sanitizeString(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// transactionID derives a stable id for a movement line.
func transactionID(org, document string, line int) string {
	return "tx-" + hashValue(normalizeCode(org) + "|" + sanitizeString(document) + "|" + strconv.Itoa(line))[:24]
}

// hashValue returns a deterministic SHA-256 hash for the provided value.
func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// sanitizeString collapses whitespace and trims the result.
func sanitizeString(value string) string {
	value = whitespaceRegex.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}
