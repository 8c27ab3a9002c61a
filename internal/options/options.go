// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package options

import "iter"

// Apply yields every non-nil option of type T, first from opts and then from
// rest. Options of other types are skipped, which lets one option value
// implement several option interfaces.
func Apply[T, O any](opts []O, rest ...O) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, list := range [][]O{opts, rest} {
			for _, opt := range list {
				op, ok := any(opt).(T)
				if !ok || any(op) == nil {
					continue
				}
				if !yield(op) {
					return
				}
			}
		}
	}
}
