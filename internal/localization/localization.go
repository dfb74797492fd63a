// Package localization provides functionality for internationalization (i18n).
// It loads translation strings from JSON files and provides a simple way to get
// localized strings for different languages.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

//go:embed locales/*.json
var bundled embed.FS

// FallbackLocale is consulted when a key is missing in the requested locale.
const FallbackLocale = "en"

// Localizer manages the translations for the application.
// It holds a map of locales, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads every "<locale>.json" file found in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		locale := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[locale] = translations
	}

	return l, nil
}

// NewBundledLocalizer loads the uz, ru and en tables compiled into the binary.
func NewBundledLocalizer() (*Localizer, error) {
	return NewLocalizer(bundled, "locales")
}

// GetString returns the localized string for a given key and locale.
// If the locale or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(locale, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if table, ok := l.translations[locale]; ok {
		if value, ok := table[key]; ok {
			return value
		}
	}

	if locale != FallbackLocale {
		if table, ok := l.translations[FallbackLocale]; ok {
			if value, ok := table[key]; ok {
				return value
			}
		}
	}

	return key
}

// Format is GetString with every "{name}" placeholder replaced from params.
// Substituted values are never expanded again.
func (l *Localizer) Format(locale, key string, params map[string]string) string {
	text := l.GetString(locale, key)
	if len(params) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(params))
	for name, value := range params {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Locales lists the loaded locale codes.
func (l *Localizer) Locales() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.translations))
	for locale := range l.translations {
		out = append(out, locale)
	}
	return out
}
