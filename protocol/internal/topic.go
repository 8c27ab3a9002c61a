// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"maps"
	"regexp"
	"strings"

	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// TopicPattern is a topic with optional {token} levels.
	TopicPattern struct {
		name    string
		pattern string
		tokens  map[string]string
	}

	// TopicFilter is the subscription form of a pattern; it can recover the
	// token values from a received topic.
	TopicFilter struct {
		filter string
		regex  *regexp.Regexp
		names  []string
		tokens map[string]string
	}
)

const (
	topicLabel = `[^ "+#{}/]+`
	topicToken = `\{` + topicLabel + `\}`
	topicLevel = `(` + topicLabel + `|` + topicToken + `)`
	topicMatch = `(` + topicLabel + `)`
)

var (
	matchLabel   = regexp.MustCompile(`^` + topicLabel + `$`)
	matchToken   = regexp.MustCompile(topicToken)
	matchTopic   = regexp.MustCompile(`^` + topicLabel + `(/` + topicLabel + `)*$`)
	matchPattern = regexp.MustCompile(`^` + topicLevel + `(/` + topicLevel + `)*$`)
)

// NewTopicPattern validates a pattern and applies the constructor-time
// tokens, such as the node ID of a per-node sender.
func NewTopicPattern(
	name, pattern string,
	tokens map[string]string,
) (*TopicPattern, error) {
	if !matchPattern.MatchString(pattern) {
		return nil, &errors.Error{
			Message:       "invalid topic pattern",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
		}
	}

	if err := validateTokens(errors.ConfigurationInvalid, tokens); err != nil {
		return nil, err
	}
	for token, value := range tokens {
		pattern = strings.ReplaceAll(pattern, "{"+token+"}", value)
	}

	return &TopicPattern{name, pattern, tokens}, nil
}

// Topic fully resolves the pattern for publishing.
func (tp *TopicPattern) Topic(tokens map[string]string) (string, error) {
	topic := tp.pattern

	if err := validateTokens(errors.ArgumentInvalid, tokens); err != nil {
		return "", err
	}
	for token, value := range tokens {
		topic = strings.ReplaceAll(topic, "{"+token+"}", value)
	}

	if !ValidTopic(topic) {
		if missing := matchToken.FindString(topic); missing != "" {
			return "", &errors.Error{
				Message:      "unresolved topic token",
				Kind:         errors.ArgumentInvalid,
				PropertyName: missing[1 : len(missing)-1],
			}
		}
		return "", &errors.Error{
			Message:       "invalid topic",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  tp.name,
			PropertyValue: topic,
		}
	}
	return topic, nil
}

// Filter builds the subscription filter; unresolved tokens become "+".
func (tp *TopicPattern) Filter() (*TopicFilter, error) {
	names := matchToken.FindAllString(tp.pattern, -1)
	for i, token := range names {
		names[i] = token[1 : len(token)-1]
	}

	escaped := regexp.QuoteMeta(tp.pattern)
	for _, token := range names {
		escaped = strings.ReplaceAll(escaped, `\{`+token+`\}`, topicMatch)
	}
	regex, err := regexp.Compile(`^` + escaped + `$`)
	if err != nil {
		return nil, &errors.Error{
			Message:     "invalid topic pattern",
			Kind:        errors.ConfigurationInvalid,
			NestedError: err,
		}
	}

	filter := matchToken.ReplaceAllString(tp.pattern, "+")
	return &TopicFilter{filter, regex, names, tp.tokens}, nil
}

// Filter returns the MQTT topic filter string.
func (tf *TopicFilter) Filter() string {
	return tf.filter
}

// Tokens reports whether the topic matches, and its token values.
func (tf *TopicFilter) Tokens(topic string) (map[string]string, bool) {
	match := tf.regex.FindStringSubmatch(topic)
	if match == nil {
		return nil, false
	}

	tokens := make(map[string]string, len(tf.names)+len(tf.tokens))
	for i, val := range match[1:] {
		tokens[tf.names[i]] = val
	}
	maps.Copy(tokens, tf.tokens)
	return tokens, true
}

// ValidTopic reports whether the string is a fully resolved topic.
func ValidTopic(topic string) bool {
	return matchTopic.MatchString(topic)
}

// Token names and values must each be a single topic level. The kind differs
// between constructor tokens and call-time tokens.
func validateTokens(kind errors.Kind, tokens map[string]string) error {
	for k, v := range tokens {
		if !matchLabel.MatchString(k) || !matchLabel.MatchString(v) {
			return &errors.Error{
				Message:       "invalid topic token",
				Kind:          kind,
				PropertyName:  k,
				PropertyValue: v,
			}
		}
	}
	return nil
}
