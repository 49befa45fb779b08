package pii

import (
	"sort"
	"unicode/utf16"
)

// Redact replaces every entity span in text with its bracketed category
// label and returns the new string. The input is never mutated: entities
// are copied before sorting, and splicing produces a fresh string.
//
// Overlapping spans are resolved before any splicing: spans are ordered by
// ascending offset with the longer span winning ties, and a span is kept
// only if it starts at or after the end of the previously kept span. A
// nested span therefore never wins over the span containing it.
//
// The kept spans are then applied in descending-offset order so that a
// label whose length differs from the span it replaces cannot shift the
// position of any span still to be applied. Splicing happens in UTF-16
// code-unit space because that is the unit the language service reports
// offsets in; text containing astral-plane characters would otherwise
// redact the wrong bytes. Spans with out-of-bounds offsets are skipped.
func Redact(text string, entities []Entity) string {
	if len(entities) == 0 {
		return text
	}

	units := utf16.Encode([]rune(text))
	spans := dedupeSpans(entities, len(units))

	for i := len(spans) - 1; i >= 0; i-- {
		e := spans[i]
		label := utf16.Encode([]rune(e.Label()))
		next := make([]uint16, 0, len(units)-e.Length+len(label))
		next = append(next, units[:e.Offset]...)
		next = append(next, label...)
		next = append(next, units[e.Offset+e.Length:]...)
		units = next
	}

	return string(utf16.Decode(units))
}

// dedupeSpans drops invalid spans and resolves overlaps, returning the kept
// spans in ascending-offset order. Of two overlapping spans the one
// starting earlier wins; at equal offsets the longer one wins, so a span is
// never shadowed by one it fully contains.
func dedupeSpans(entities []Entity, limit int) []Entity {
	spans := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > limit {
			continue
		}
		spans = append(spans, e)
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Offset != spans[j].Offset {
			return spans[i].Offset < spans[j].Offset
		}
		return spans[i].Length > spans[j].Length
	})

	kept := spans[:0]
	end := 0
	for _, e := range spans {
		if e.Offset < end {
			continue
		}
		kept = append(kept, e)
		end = e.Offset + e.Length
	}
	return kept
}
