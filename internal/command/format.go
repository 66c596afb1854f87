package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/adamavenir/mailroom/internal/types"
	"github.com/dustin/go-humanize"
)

const maxDisplayLines = 20

var (
	noColor = os.Getenv("NO_COLOR") != ""

	dim   = ansiCode("\x1b[2m")
	bold  = ansiCode("\x1b[1m")
	reset = ansiCode("\x1b[0m")
	cyan  = ansiCode("\x1b[36m")
)

var handleColors = []string{
	ansiCode("\x1b[38;5;111m"),
	ansiCode("\x1b[38;5;157m"),
	ansiCode("\x1b[38;5;216m"),
	ansiCode("\x1b[38;5;36m"),
	ansiCode("\x1b[38;5;183m"),
	ansiCode("\x1b[38;5;230m"),
}

// now is swapped in tests to pin relative timestamps.
var now = time.Now

func ansiCode(code string) string {
	if noColor {
		return ""
	}
	return code
}

func handleColor(handle string) string {
	if noColor {
		return ""
	}
	return handleColors[hashString(handle)%len(handleColors)]
}

func hashString(value string) int {
	hash := 0
	for i := 0; i < len(value); i++ {
		hash = ((hash << 5) - hash) + int(value[i])
		hash &= 0x7fffffff
	}
	return hash
}

func formatHandle(handle string) string {
	color := handleColor(handle)
	if color == "" {
		return "@" + handle
	}
	return color + "@" + handle + reset
}

func formatHandles(handles []string) string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = formatHandle(h)
	}
	return strings.Join(out, ", ")
}

func relativeTime(t time.Time) string {
	return humanize.RelTime(t, now(), "ago", "from now")
}

// FormatMessage formats a message as a single header line followed by its body.
func FormatMessage(msg types.Message) string {
	idBlock := fmt.Sprintf("%s[%s#%s%s]%s", dim, bold, msg.ID, reset+dim, reset)
	header := fmt.Sprintf("%s %s -> %s %s%s%s", idBlock, formatHandle(msg.FromHandle), formatHandles(msg.ToHandles), dim, relativeTime(msg.CreatedAt), reset)
	if len(msg.Tags) > 0 {
		header += " " + cyan + "[" + strings.Join(msg.Tags, ", ") + "]" + reset
	}
	return header + "\n" + indent(truncateForDisplay(msg.Body, msg.ID))
}

// FormatThread formats a thread as a one-line summary.
func FormatThread(thread types.Thread) string {
	archived := ""
	if thread.Archived() {
		archived = " " + dim + "(archived)" + reset
	}
	return fmt.Sprintf("%s[%s#%s%s]%s %s%s%s with %s, %s%s",
		dim, bold, thread.ID, reset+dim, reset,
		bold, thread.Subject, reset,
		formatHandles(thread.ParticipantHandles),
		relativeTime(thread.LastActivityAt), archived)
}

// FormatEntry formats an address book entry.
func FormatEntry(entry types.AddressBookEntry) string {
	var b strings.Builder
	b.WriteString(formatHandle(entry.Handle))
	if entry.DisplayName != "" {
		b.WriteString(" (" + entry.DisplayName + ")")
	}
	if len(entry.Tags) > 0 {
		b.WriteString(" " + cyan + "[" + strings.Join(entry.Tags, ", ") + "]" + reset)
	}
	if !entry.IsActive {
		b.WriteString(" " + dim + "inactive" + reset)
	}
	fmt.Fprintf(&b, " %sv%d, updated %s by @%s%s", dim, entry.Version, relativeTime(entry.UpdatedAt), entry.UpdatedBy, reset)
	if entry.Description != "" {
		b.WriteString("\n" + indent(entry.Description))
	}
	return b.String()
}

// FormatEvent formats an audit event.
func FormatEvent(event types.AuditEvent) string {
	target := ""
	if event.TargetHandle != nil {
		target = " -> " + formatHandle(*event.TargetHandle)
	}
	details := ""
	if len(event.Details) > 0 {
		if data, err := json.Marshal(event.Details); err == nil {
			details = " " + dim + string(data) + reset
		}
	}
	return fmt.Sprintf("%s %s %s%s%s", event.Timestamp.Format(time.RFC3339), event.EventType, formatHandle(event.ActorHandle), target, details)
}

func truncateForDisplay(body, id string) string {
	lines := strings.Split(body, "\n")
	if len(lines) <= maxDisplayLines {
		return body
	}
	kept := strings.Join(lines[:maxDisplayLines], "\n")
	return fmt.Sprintf("%s\n... (%d more lines. Use 'mailroom messages --json' to see message %s in full)", kept, len(lines)-maxDisplayLines, id)
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func writeJSON(out io.Writer, value any) error {
	return json.NewEncoder(out).Encode(value)
}
