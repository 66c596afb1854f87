package core

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	MinHandleLength      = 2
	MaxHandleLength      = 64
	MaxSubjectLength     = 200
	MaxBodyLength        = 50000
	MaxTags              = 20
	MaxTagLength         = 30
	MaxDisplayNameLength = 100
	MaxDescriptionLength = 1000
	MaxRecipients        = 100
	MaxMetadataKeyLength = 64
	MaxMetadataValue     = 1000
)

var (
	handleRe      = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._-]*[a-z0-9])?$`)
	tagRe         = regexp.MustCompile(`^[a-z0-9][a-z0-9._:-]*$`)
	metadataKeyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

// NormalizeHandle returns the canonical form of a handle or a validation error.
// Leading "@" and surrounding whitespace are dropped and the result is lowercased.
func NormalizeHandle(raw string) (string, error) {
	handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if handle == "" {
		return "", invalid("handle", "must not be empty")
	}
	n := utf8.RuneCountInString(handle)
	if n < MinHandleLength || n > MaxHandleLength {
		return "", invalid("handle", "%q must be %d-%d characters", handle, MinHandleLength, MaxHandleLength)
	}
	if !handleRe.MatchString(handle) {
		return "", invalid("handle", "%q may only contain a-z, 0-9, '.', '_' and '-' and must start and end alphanumeric", handle)
	}
	return handle, nil
}

// NormalizeRecipients canonicalizes and deduplicates recipients, preserving order.
func NormalizeRecipients(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, invalid("to_handles", "at least one recipient is required")
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		handle, err := NormalizeHandle(value)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[handle]; ok {
			continue
		}
		seen[handle] = struct{}{}
		out = append(out, handle)
	}
	if len(out) > MaxRecipients {
		return nil, invalid("to_handles", "at most %d recipients allowed", MaxRecipients)
	}
	return out, nil
}

// ValidateSubject trims and checks a thread subject.
func ValidateSubject(raw string) (string, error) {
	subject := strings.TrimSpace(raw)
	if subject == "" {
		return "", invalid("subject", "must not be empty")
	}
	if utf8.RuneCountInString(subject) > MaxSubjectLength {
		return "", invalid("subject", "must be at most %d characters", MaxSubjectLength)
	}
	return subject, nil
}

// ValidateBody checks a message body. Bodies are stored verbatim.
func ValidateBody(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", invalid("body", "must not be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", invalid("body", "must be at most %d characters", MaxBodyLength)
	}
	return body, nil
}

// NormalizeTags lowercases, deduplicates and sorts tags.
func NormalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		tag := strings.ToLower(strings.TrimSpace(value))
		if tag == "" {
			return nil, invalid("tags", "tags must not be empty")
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, invalid("tags", "%q exceeds %d characters", tag, MaxTagLength)
		}
		if !tagRe.MatchString(tag) {
			return nil, invalid("tags", "%q may only contain a-z, 0-9, '.', '_', ':' and '-'", tag)
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, invalid("tags", "at most %d tags allowed", MaxTags)
	}
	sort.Strings(out)
	return out, nil
}

// ValidateDisplayName trims and checks a display name. Empty is allowed.
func ValidateDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", invalid("display_name", "must be at most %d characters", MaxDisplayNameLength)
	}
	return name, nil
}

// ValidateDescription trims and checks an address book description. Empty is allowed.
func ValidateDescription(raw string) (string, error) {
	desc := strings.TrimSpace(raw)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return "", invalid("description", "must be at most %d characters", MaxDescriptionLength)
	}
	return desc, nil
}

// ValidateMetadata checks a thread metadata key and value.
func ValidateMetadata(key, value string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || len(key) > MaxMetadataKeyLength || !metadataKeyRe.MatchString(key) {
		return "", invalid("metadata key", "%q must be 1-%d characters of a-z, 0-9, '_', '.' or '-'", key, MaxMetadataKeyLength)
	}
	if utf8.RuneCountInString(value) > MaxMetadataValue {
		return "", invalid("metadata value", "must be at most %d characters", MaxMetadataValue)
	}
	return key, nil
}

// CleanID trims whitespace and a leading "#" from an identifier.
func CleanID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "#")
}

// RequireID cleans an identifier and rejects empty input.
func RequireID(field, id string) (string, error) {
	id = CleanID(id)
	if id == "" {
		return "", invalid(field, "must not be empty")
	}
	return id, nil
}
