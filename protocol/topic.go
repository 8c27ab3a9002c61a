// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import "github.com/eva00212/jetson/protocol/internal"

// ResolveTopic resolves every token of a topic pattern. It fails if the
// pattern is malformed, a token value is not a single topic level, or a token
// is left unresolved.
func ResolveTopic(
	name, pattern string,
	tokens map[string]string,
) (string, error) {
	tp, err := internal.NewTopicPattern(name, pattern, tokens)
	if err != nil {
		return "", err
	}
	return tp.Topic(nil)
}
