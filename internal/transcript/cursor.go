package transcript

import (
	"strings"
	"time"
)

const cursorPrefix = "MC:"

// EncodeCursor builds the cursor the reference feed server issues for a
// message: "MC:{timestamp}|{id}". It is stable across re-indexing because it
// only uses immutable message properties. Clients treat cursors as opaque.
func EncodeCursor(ts time.Time, id string) Cursor {
	return Cursor(cursorPrefix + ts.UTC().Format(time.RFC3339Nano) + "|" + id)
}

// DecodeCursor splits a cursor produced by EncodeCursor. It reports false for
// anything else.
func DecodeCursor(c Cursor) (time.Time, string, bool) {
	rest, ok := strings.CutPrefix(string(c), cursorPrefix)
	if !ok {
		return time.Time{}, "", false
	}
	tsPart, id, ok := strings.Cut(rest, "|")
	if !ok || tsPart == "" || id == "" {
		return time.Time{}, "", false
	}
	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, id, true
}
