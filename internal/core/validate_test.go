package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		"alice":       "alice",
		"  @Alice  ":  "alice",
		"ops.bot-2":   "ops.bot-2",
		"build_agent": "build_agent",
	}
	for input, want := range cases {
		got, err := NormalizeHandle(input)
		if err != nil {
			t.Fatalf("normalize %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %q, got %q", input, want, got)
		}
	}

	for _, input := range []string{"", "a", "-alice", "alice-", "al ice", "al!ce", strings.Repeat("a", MaxHandleLength+1)} {
		if _, err := NormalizeHandle(input); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected %q to be rejected, got %v", input, err)
		}
	}
}

func TestNormalizeRecipients(t *testing.T) {
	got, err := NormalizeRecipients([]string{"Bob", "@carol", "bob"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("expected [bob carol], got %v", got)
	}

	_, err = NormalizeRecipients(nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "to_handles" {
		t.Fatalf("expected to_handles validation error, got %v", err)
	}

	many := make([]string, MaxRecipients+1)
	for i := range many {
		many[i] = fmt.Sprintf("agent-%d", i)
	}
	if _, err := NormalizeRecipients(many); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected too many recipients to be rejected, got %v", err)
	}
}

func TestSubjectAndBody(t *testing.T) {
	subject, err := ValidateSubject("  Hello  ")
	if err != nil || subject != "Hello" {
		t.Fatalf("expected trimmed subject, got %q, %v", subject, err)
	}
	if _, err := ValidateSubject(strings.Repeat("s", MaxSubjectLength+1)); err == nil {
		t.Fatal("expected long subject to be rejected")
	}

	body, err := ValidateBody("  keep\nwhitespace  ")
	if err != nil || body != "  keep\nwhitespace  " {
		t.Fatalf("expected verbatim body, got %q, %v", body, err)
	}
	if _, err := ValidateBody("\n\t "); err == nil {
		t.Fatal("expected blank body to be rejected")
	}
	if _, err := ValidateBody(strings.Repeat("b", MaxBodyLength+1)); err == nil {
		t.Fatal("expected long body to be rejected")
	}
}

func TestNormalizeTags(t *testing.T) {
	got, err := NormalizeTags([]string{"Ops", "eng", "ops", "area:infra"})
	if err != nil {
		t.Fatalf("normalize tags: %v", err)
	}
	want := []string{"area:infra", "eng", "ops"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}

	empty, err := NormalizeTags(nil)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil tags, got %v, %v", empty, err)
	}

	for _, bad := range [][]string{{""}, {"has space"}, {strings.Repeat("t", MaxTagLength+1)}} {
		if _, err := NormalizeTags(bad); err == nil {
			t.Fatalf("expected %v to be rejected", bad)
		}
	}
}

func TestValidateMetadata(t *testing.T) {
	key, err := ValidateMetadata(" Review.Status ", "done")
	if err != nil || key != "review.status" {
		t.Fatalf("expected normalized key, got %q, %v", key, err)
	}
	for _, bad := range []string{"", "has space", "emoji!", strings.Repeat("k", MaxMetadataKeyLength+1)} {
		if _, err := ValidateMetadata(bad, "v"); err == nil {
			t.Fatalf("expected key %q to be rejected", bad)
		}
	}
	if _, err := ValidateMetadata("k", strings.Repeat("v", MaxMetadataValue+1)); err == nil {
		t.Fatal("expected long value to be rejected")
	}
}

func TestRequireID(t *testing.T) {
	id, err := RequireID("thread_id", " #thrd-1 ")
	if err != nil || id != "thrd-1" {
		t.Fatalf("expected cleaned id, got %q, %v", id, err)
	}
	if _, err := RequireID("thread_id", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConflictError(t *testing.T) {
	err := error(&ConflictError{Handle: "bob", ExpectedVersion: 1, CurrentVersion: 3})
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected conflict error to match ErrConflict")
	}
	if !strings.Contains(err.Error(), "current 3") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if IsRetryable(err) {
		t.Fatal("conflicts are not retryable")
	}
}
