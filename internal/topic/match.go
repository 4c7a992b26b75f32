// Package topic implements MQTT topic filter matching and validation.
package topic

import "strings"

const (
	Separator      = "/"
	SingleWildcard = "+"
	MultiWildcard  = "#"
)

// Match reports whether topic matches filter.
//   - '+' matches exactly one level.
//   - '#' matches zero or more trailing levels, so "a/#" matches "a".
//   - A topic starting with '$' is never matched by a filter whose first level is a wildcard.
//
// Match expects a filter that passed ValidateFilter; it never returns an error.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, SingleWildcard) || strings.HasPrefix(filter, MultiWildcard)) {
		return false
	}

	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, Separator)
	topicLevels := strings.Split(topic, Separator)

	for i, level := range filterLevels {
		if level == MultiWildcard {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level == SingleWildcard {
			continue
		}
		if level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// Levels splits a topic or filter into its levels.
func Levels(s string) []string {
	return strings.Split(s, Separator)
}
