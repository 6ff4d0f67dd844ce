// Package tagkey builds the canonical serialized db-key used for op
// routing and bitmap-cache addressing: "<container>|<db-kind>|<tag>:<value>".
package tagkey

import "strings"

// DBKindInvertedIndex names the inverted-event-index database in the
// canonical key, matching spec.md §4.6.
const DBKindInvertedIndex = "inverted_event_index"

// Tag renders the bare "<key>:<value>" form stored as the KV key inside
// a container's inverted-event-index bucket (the bucket is already
// scoped per container and db-kind, so it does not repeat them).
func Tag(key, value string) string {
	return key + ":" + value
}

// Build renders the canonical routing/cache key for a tag value.
func Build(containerName, dbKind, tag, value string) string {
	var b strings.Builder
	b.Grow(len(containerName) + len(dbKind) + len(tag) + len(value) + 4)
	b.WriteString(containerName)
	b.WriteByte('|')
	b.WriteString(dbKind)
	b.WriteByte('|')
	b.WriteString(tag)
	b.WriteByte(':')
	b.WriteString(value)
	return b.String()
}
