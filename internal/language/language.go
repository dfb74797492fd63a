// Package language holds the fixed set of languages the support desk serves.
package language

import "strings"

// Language is the canonical code of a supported language, as stored in the database.
type Language string

const (
	UZB Language = "UZB"
	RUS Language = "RUS"
	ENG Language = "ENG"
)

// Default is used whenever a code cannot be recognised.
const Default = UZB

var members = []Language{UZB, RUS, ENG}

// Members returns the supported languages in menu order.
func Members() []Language {
	out := make([]Language, len(members))
	copy(out, members)
	return out
}

// Parse translates a code into a Language. Unknown codes fall back to Default.
// Both canonical codes ("RUS") and locale codes ("ru") are accepted.
func Parse(code string) Language {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "UZB", "UZ":
		return UZB
	case "RUS", "RU":
		return RUS
	case "ENG", "EN":
		return ENG
	default:
		return Default
	}
}

// Valid reports whether code names a supported language without falling back.
func Valid(code string) bool {
	for _, l := range members {
		if string(l) == code {
			return true
		}
	}
	return false
}

// Locale returns the short locale name used by the localization tables.
func (l Language) Locale() string {
	switch l {
	case RUS:
		return "ru"
	case ENG:
		return "en"
	default:
		return "uz"
	}
}

// Title is the language name as shown on menu buttons.
func (l Language) Title() string {
	switch l {
	case RUS:
		return "🇷🇺 Русский"
	case ENG:
		return "🇬🇧 English"
	default:
		return "🇺🇿 O'zbekcha"
	}
}

func (l Language) String() string { return string(l) }

// ParseList parses codes in order, dropping duplicates and unknown codes.
func ParseList(codes []string) []Language {
	out := make([]Language, 0, len(codes))
	seen := make(map[Language]bool, len(codes))
	for _, c := range codes {
		if !Valid(strings.ToUpper(strings.TrimSpace(c))) {
			continue
		}
		l := Parse(c)
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Strings converts languages back into their codes.
func Strings(langs []Language) []string {
	out := make([]string, len(langs))
	for i, l := range langs {
		out[i] = string(l)
	}
	return out
}
