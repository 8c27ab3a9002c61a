// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "strings"

const sharedPrefix = "$share/"

// IsTopicFilterMatch reports whether a topic name matches a topic filter,
// including + and # wildcards and shared subscription filters.
func IsTopicFilterMatch(topicFilter, topicName string) bool {
	if tf, ok := strings.CutPrefix(topicFilter, sharedPrefix); ok {
		idx := strings.Index(tf, "/")
		if idx == -1 {
			return false
		}
		topicFilter = tf[idx+1:]
	}

	// Wildcards never match topics beginning with $ (e.g. $SYS).
	if strings.HasPrefix(topicName, "$") &&
		(strings.HasPrefix(topicFilter, "+") || strings.HasPrefix(topicFilter, "#")) {
		return false
	}

	filters := strings.Split(topicFilter, "/")
	names := strings.Split(topicName, "/")

	for i, filter := range filters {
		if filter == "#" {
			return i == len(filters)-1
		}
		if filter == "+" {
			if i >= len(names) {
				return false
			}
			continue
		}
		if i >= len(names) || filter != names[i] {
			return false
		}
	}

	return len(filters) == len(names)
}
