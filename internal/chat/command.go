package chat

import (
	"strings"
	"unicode"
)

// CommandKind classifies one inbound chat line.
type CommandKind int

const (
	CommandEmpty CommandKind = iota
	CommandQuit
	CommandWhisper
	CommandMalformedWhisper
	CommandBroadcast
)

func (k CommandKind) String() string {
	switch k {
	case CommandEmpty:
		return "empty"
	case CommandQuit:
		return "quit"
	case CommandWhisper:
		return "whisper"
	case CommandMalformedWhisper:
		return "malformed-whisper"
	case CommandBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Command is one parsed inbound line.
type Command struct {
	Kind   CommandKind
	Target string
	Text   string
}

var quitTokens = map[string]struct{}{
	"/quit": {},
	"quit":  {},
	"/종료":   {},
	"종료":    {},
}

// Full-width slash is accepted for IME users.
var whisperPrefixes = []string{"/w ", "／w ", "w "}

// ParseCommand classifies a raw inbound line. Surrounding whitespace is ignored.
func ParseCommand(line string) Command {
	text := strings.TrimSpace(line)
	if text == "" {
		return Command{Kind: CommandEmpty}
	}
	if _, ok := quitTokens[text]; ok {
		return Command{Kind: CommandQuit}
	}

	for _, prefix := range whisperPrefixes {
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		parts := splitFields(strings.TrimPrefix(text, prefix), 2)
		if len(parts) < 2 {
			return Command{Kind: CommandMalformedWhisper}
		}
		return Command{Kind: CommandWhisper, Target: parts[0], Text: parts[1]}
	}

	return Command{Kind: CommandBroadcast, Text: text}
}

// IsQuit reports whether line would end a session.
func IsQuit(line string) bool {
	return ParseCommand(line).Kind == CommandQuit
}

// splitFields splits s on whitespace runs into at most n parts; the last part
// keeps its inner whitespace.
func splitFields(s string, n int) []string {
	var parts []string
	for len(parts) < n-1 {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			return parts
		}
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s = s[i:]
	}
	if rest := strings.TrimSpace(s); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
