// ABOUTME: Merge strategies for combining an incoming value with a stored one.
// ABOUTME: merge deep-merges objects, append extends arrays, anything else replaces.

package contextstore

import "github.com/2389/coven-mcp/internal/message"

// Combine returns the value stored after applying incoming over existing.
// Neither argument is modified.
func Combine(existing, incoming message.Value, strategy message.MergeStrategy) message.Value {
	switch strategy {
	case message.MergeDeep:
		return deepMerge(existing, incoming)
	case message.MergeAppend:
		prev, okPrev := existing.AsArray()
		next, okNext := incoming.AsArray()
		if !okPrev || !okNext {
			return incoming
		}
		out := make([]message.Value, 0, len(prev)+len(next))
		for _, item := range prev {
			out = append(out, item.Clone())
		}
		for _, item := range next {
			out = append(out, item.Clone())
		}
		return message.Array(out...)
	default:
		return incoming
	}
}

func deepMerge(existing, incoming message.Value) message.Value {
	prev, okPrev := existing.AsObject()
	next, okNext := incoming.AsObject()
	if !okPrev || !okNext {
		return incoming
	}

	out := message.CloneMap(prev)
	for key, value := range next {
		if current, ok := out[key]; ok {
			out[key] = deepMerge(current, value)
			continue
		}
		out[key] = value.Clone()
	}
	return message.Object(out)
}
