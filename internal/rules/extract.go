package rules

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	customEmojiRegex = regexp.MustCompile(`<(a?):(\w+):(\d+)>`)
	urlRegex         = regexp.MustCompile(`https?://[^\s]+`)
)

// candidates extracts the strings a rule's patterns run against, keyed by
// the rule target. Message text and name targets pass through as-is;
// structured targets go through a type-specific extractor first.
func candidates(target Target, event ContentEvent) []string {
	switch target {
	case TargetMessageContent, TargetUsername, TargetNickname:
		if event.Text == "" {
			return nil
		}
		return []string{event.Text}
	case TargetReactionEmoji:
		return event.EmojiTokens
	case TargetMessageEmoji:
		return ExtractEmoji(event.Text)
	case TargetSticker:
		return event.StickerNames
	case TargetLink:
		return ExtractLinks(event.Text)
	}
	return nil
}

// ExtractEmoji pulls emoji out of message text: custom emoji tokens
// (`<:name:id>` and animated `<a:name:id>`) are reported by name, and
// unicode emoji are reported as single-rune strings.
func ExtractEmoji(content string) []string {
	var out []string
	for _, match := range customEmojiRegex.FindAllStringSubmatch(content, -1) {
		out = append(out, match[2])
	}
	stripped := customEmojiRegex.ReplaceAllString(content, "")
	for _, r := range stripped {
		if isEmojiRune(r) {
			out = append(out, string(r))
		}
	}
	return out
}

// ExtractLinks scans text for http(s) URLs and reports each with its
// hostname lowercased and punycode-normalized, so a pattern written
// against an ASCII domain also catches its IDN spoof.
func ExtractLinks(content string) []string {
	raw := urlRegex.FindAllString(content, -1)
	out := make([]string, 0, len(raw))
	for _, link := range raw {
		out = append(out, normalizeLink(link))
	}
	return out
}

func normalizeLink(link string) string {
	rest := strings.TrimPrefix(link, "https://")
	scheme := "https://"
	if rest == link {
		rest = strings.TrimPrefix(link, "http://")
		scheme = "http://"
	}
	slash := strings.IndexByte(rest, '/')
	host := rest
	tail := ""
	if slash >= 0 {
		host = rest[:slash]
		tail = rest[slash:]
	}
	host = strings.ToLower(host)
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	return scheme + host + tail
}

// isEmojiRune covers the common emoji blocks. Not exhaustive, but a rule
// targeting emoji is matching names or a handful of specific glyphs.
func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, transport, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	}
	return false
}
