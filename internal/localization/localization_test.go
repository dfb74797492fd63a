package localization_test

import (
	"testing"
	"testing/fstest"

	"supportdesk/backend/internal/localization"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledLocalizer_HasEveryLocale(t *testing.T) {
	l, err := localization.NewBundledLocalizer()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uz", "ru", "en"}, l.Locales())
}

// Every key of the fallback table must exist in the other tables too.
func TestBundledLocalizer_TablesAreComplete(t *testing.T) {
	l, err := localization.NewBundledLocalizer()
	require.NoError(t, err)

	keys := []string{"welcome", "no_operator_available", "operator_joined", "operator_no_users", "new_client", "button_share_contact"}
	for _, locale := range []string{"uz", "ru"} {
		for _, key := range keys {
			assert.NotEqual(t, l.GetString("en", key), l.GetString(locale, key), "%s/%s looks untranslated", locale, key)
		}
	}
}

func TestLocalizer_FallbackToEnglishThenKey(t *testing.T) {
	fsys := fstest.MapFS{
		"i18n/en.json":   {Data: []byte(`{"hello":"Hello","only_en":"English only"}`)},
		"i18n/ru.json":   {Data: []byte(`{"hello":"Привет"}`)},
		"i18n/notes.txt": {Data: []byte(`ignored`)},
	}
	l, err := localization.NewLocalizer(fsys, "i18n")
	require.NoError(t, err)

	assert.Equal(t, "Привет", l.GetString("ru", "hello"))
	assert.Equal(t, "English only", l.GetString("ru", "only_en"))
	assert.Equal(t, "missing_key", l.GetString("ru", "missing_key"))
	assert.Equal(t, "Hello", l.GetString("xx", "hello"))
}

func TestLocalizer_Format(t *testing.T) {
	l, err := localization.NewBundledLocalizer()
	require.NoError(t, err)

	got := l.Format("en", "operator_select_more_languages", map[string]string{"total": "3", "count": "1"})
	assert.Equal(t, "❌ You must select 3 languages! (Current: 1)", got)
}

func TestLocalizer_BadJSON(t *testing.T) {
	fsys := fstest.MapFS{"i18n/en.json": {Data: []byte(`{`)}}
	_, err := localization.NewLocalizer(fsys, "i18n")
	assert.Error(t, err)
}

func TestLocalizer_FormatDoesNotExpandValues(t *testing.T) {
	fsys := fstest.MapFS{
		"i18n/en.json": {Data: []byte(`{"card":"{name} / {phone}"}`)},
	}
	l, err := localization.NewLocalizer(fsys, "i18n")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		got := l.Format("en", "card", map[string]string{"name": "{phone}", "phone": "+998"})
		assert.Equal(t, "{phone} / +998", got)
	}
}
