package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/Spatial-NVR/PPEGuard/internal/detection"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// FilterRequest is the body of POST /api/set-filter
type FilterRequest struct {
	Filter *string `json:"filter"`
}

// DecodeFilterRequest reads a set-filter body. A missing "filter" field
// selects "all".
func DecodeFilterRequest(body io.Reader) (string, ValidationErrors) {
	var req FilterRequest
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&req); err != nil {
		return "", ValidationErrors{{Field: "body", Message: "request body must be a JSON object"}}
	}
	if req.Filter == nil {
		return string(detection.FilterAll), nil
	}

	mode := *req.Filter
	if _, err := detection.ParseFilterMode(mode); err != nil {
		valid := make([]string, len(detection.FilterModes))
		for i, m := range detection.FilterModes {
			valid[i] = string(m)
		}
		return "", ValidationErrors{{
			Field:   "filter",
			Message: fmt.Sprintf("unknown filter %q. Supported: %s", mode, strings.Join(valid, ", ")),
		}}
	}
	return mode, nil
}

// ParseLimit parses a positive ?limit= value, falling back to def when
// empty and capping at max.
func ParseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// ValidateSnapshotName rejects names that could escape the snapshot directory
func ValidateSnapshotName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid snapshot name")
	}
	return nil
}

// SanitizeSourceURL removes credentials from a camera URL for logging.
// Device indexes and file paths are returned unchanged.
func SanitizeSourceURL(source string) string {
	if !strings.Contains(source, "://") {
		return source
	}
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[invalid-url]"
	}

	u.User = nil

	return u.String()
}
