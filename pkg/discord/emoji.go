package discord

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyEmoji is returned for a blank emoji argument.
var ErrEmptyEmoji = errors.New("emoji must not be empty")

// NormalizeEmoji turns user input into the form the reactions route expects.
// Unicode emojis pass through; custom emojis become "name:id", and the
// message-markup forms "<:name:id>" and "<a:name:id>" are accepted too.
func NormalizeEmoji(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyEmoji
	}

	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
		s = strings.TrimPrefix(s, "a:")
		s = strings.TrimPrefix(s, ":")
	}

	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, nil
	}

	name, id := s[:i], s[i+1:]
	if name == "" {
		return "", fmt.Errorf("custom emoji %q has no name", s)
	}
	if _, err := ParseSnowflake(id); err != nil {
		return "", fmt.Errorf("custom emoji %q: %w", s, err)
	}
	return name + ":" + id, nil
}
