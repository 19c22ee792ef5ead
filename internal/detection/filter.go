package detection

import (
	"fmt"
	"strings"
)

// FilterMode narrows which detections are shown and annotated
type FilterMode string

const (
	FilterAll      FilterMode = "all"
	FilterHelmet   FilterMode = "helmet"
	FilterMask     FilterMode = "mask"
	FilterVest     FilterMode = "vest"
	FilterNoHelmet FilterMode = "no-helmet"
	FilterNoMask   FilterMode = "no-mask"
	FilterNoVest   FilterMode = "no-vest"
)

// FilterModes lists every accepted mode in display order
var FilterModes = []FilterMode{
	FilterAll,
	FilterHelmet,
	FilterMask,
	FilterVest,
	FilterNoHelmet,
	FilterNoMask,
	FilterNoVest,
}

// filterKeywords maps each mode to the substrings matched against lower-cased class names.
// Hyphenated forms cover datasets that label classes like "NO-Mask".
var filterKeywords = map[FilterMode][]string{
	FilterHelmet:   {"helmet", "hard hat", "hardhat"},
	FilterMask:     {"mask", "face mask"},
	FilterVest:     {"vest", "safety vest", "jacket"},
	FilterNoHelmet: {"no helmet", "no hard hat", "no-helmet", "no-hard hat", "no-hardhat"},
	FilterNoMask:   {"no mask", "no-mask"},
	FilterNoVest:   {"no vest", "no safety vest", "no-vest", "no-safety vest"},
}

// ViolationKeywords mark a class name as missing PPE
var ViolationKeywords = []string{
	"no helmet", "no mask", "no vest", "no hard hat",
	"no-helmet", "no-mask", "no-vest", "no-hard hat", "no-hardhat", "no-safety vest",
}

// ParseFilterMode validates a filter mode name
func ParseFilterMode(s string) (FilterMode, error) {
	mode := FilterMode(s)
	if mode == FilterAll {
		return mode, nil
	}
	if _, ok := filterKeywords[mode]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("unknown filter mode: %q", s)
}

// Keywords returns the keyword list for a mode (nil for "all" and unknown modes)
func (m FilterMode) Keywords() []string {
	return filterKeywords[m]
}

// Keep reports whether a detection is visible under the given mode
func Keep(d Detection, mode FilterMode) bool {
	if mode == FilterAll {
		return true
	}
	keywords, ok := filterKeywords[mode]
	if !ok {
		return false
	}
	return ContainsAny(d.ClassName, keywords)
}

// Apply returns the detections retained by mode
func Apply(in []Detection, mode FilterMode) []Detection {
	if mode == FilterAll {
		return in
	}
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		if Keep(d, mode) {
			out = append(out, d)
		}
	}
	return out
}

// IsViolation reports whether a class name matches any violation keyword.
// Plain substring matching: "vestibule" would match "vest" style keywords too.
func IsViolation(className string) bool {
	return ContainsAny(className, ViolationKeywords)
}

// ContainsAny reports whether the lower-cased name contains any keyword
func ContainsAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
