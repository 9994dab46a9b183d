// Package serial implements the resumable state serializer.
//
// This package contains:
//   - The closed type-tag registry and constant table
//   - Graph discovery (seen map, root promotion, root paths)
//   - The value encoder producing the textual tag/payload stream
//   - Forward references for values that settle asynchronously
//   - The lazy decoding container (allocate, inflate, memoized roots)
//
// The encoded form is a JSON array of tag/payload pairs. Root i occupies
// elements 2*i and 2*i+1; a trailing ForwardRefs pair maps forward-reference
// ids to the roots that hold their settled results.
package serial
