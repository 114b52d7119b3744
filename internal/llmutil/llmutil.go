// Package llmutil provides shared helpers for cleaning model output and for
// wiring the built-in providers into a factory.
package llmutil

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned by ExtractJSON when no JSON object or array is found.
var ErrNoJSON = errors.New("no JSON value in model output")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkingTags removes <think>...</think> blocks that reasoning models
// (qwen3, deepseek-r1) emit. An unclosed tag drops everything after it.
func StripThinkingTags(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// StripMarkdownFences removes the outermost ``` fence pair, including an
// info string such as ```mermaid or ```json. Thinking tags go first.
func StripMarkdownFences(s string) string {
	s = StripThinkingTags(s)
	lines := strings.Split(s, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			start = i
			break
		}
	}
	if start < 0 {
		return s
	}

	end := len(lines)
	for i := len(lines) - 1; i > start; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start+1:end], "\n"))
}

// ExtractJSON returns the first balanced JSON object or array in s, skipping
// prose and fences around it. Braces inside string literals are ignored.
func ExtractJSON(s string) (string, error) {
	s = StripMarkdownFences(s)
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end := matchClose(s, i); end > 0 {
			return s[i : end+1], nil
		}
	}
	return "", ErrNoJSON
}

func matchClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
