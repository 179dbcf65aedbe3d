package ai

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// fillerTokens are throwaway acknowledgements that never carry
// profile-worthy information.
var fillerTokens = map[string]struct{}{
	"ok":     {},
	"okay":   {},
	"haha":   {},
	"lol":    {},
	"thanks": {},
	"thx":    {},
	"넵":      {},
	"네":      {},
	"응":      {},
	"ㅇㅇ":     {},
}

// IsTrivial reports whether text carries nothing worth remembering: empty
// or whitespace, shorter than three runes, a known filler token, laughter,
// or emoji only.
func IsTrivial(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if utf8.RuneCountInString(trimmed) < 3 {
		return true
	}
	if _, ok := fillerTokens[strings.ToLower(trimmed)]; ok {
		return true
	}
	if laughterOnly(trimmed) {
		return true
	}
	return emojiOnly(trimmed)
}

// laughterOnly matches Korean laughter of any length.
func laughterOnly(s string) bool {
	for _, r := range s {
		if r != 'ㅋ' && r != 'ㅎ' {
			return false
		}
	}
	return true
}

func emojiOnly(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if !isEmojiRune(r) {
			return false
		}
	}
	return true
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, extended symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, zero width joiner
		return true
	}
	return false
}
