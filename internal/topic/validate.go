package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidFilter = errors.New("invalid topic filter")
	ErrInvalidTopic  = errors.New("invalid topic name")
)

// maxLength is the longest UTF-8 string the wire format can carry.
const maxLength = 65535

// ValidateFilter checks a subscription filter. '#' must be the last level and
// both wildcards must occupy a whole level.
func ValidateFilter(filter string) error {
	if err := validateString(filter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	levels := Levels(filter)
	for i, level := range levels {
		switch {
		case level == MultiWildcard:
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidFilter, filter)
			}
		case level == SingleWildcard:
		case strings.ContainsAny(level, SingleWildcard+MultiWildcard):
			return fmt.Errorf("%w: wildcard must occupy an entire level in %q", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// ValidateTopicName checks a topic used in PUBLISH, which may not carry wildcards.
func ValidateTopicName(topic string) error {
	if err := validateString(topic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	if strings.ContainsAny(topic, SingleWildcard+MultiWildcard) {
		return fmt.Errorf("%w: %q contains wildcards", ErrInvalidTopic, topic)
	}
	return nil
}

func validateString(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case len(s) > maxLength:
		return errors.New("too long")
	case !utf8.ValidString(s):
		return errors.New("not valid UTF-8")
	case strings.ContainsRune(s, 0):
		return errors.New("contains NUL")
	}
	return nil
}
