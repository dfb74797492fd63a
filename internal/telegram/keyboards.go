package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/localization"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	cbLanguage = "lang:"
	cbCount    = "count:"
	cbToggle   = "toggle:"
	cbConfirm  = "confirm"
	cbPhone    = "phone:"
)

// EncodeCallback renders a callback action as button data.
func EncodeCallback(cb chathub.Callback) string {
	switch c := cb.(type) {
	case chathub.ChooseLanguage:
		return cbLanguage + string(c.Language)
	case chathub.LanguageCount:
		return cbCount + strconv.Itoa(c.Count)
	case chathub.ToggleLanguage:
		return cbToggle + string(c.Language)
	case chathub.ConfirmLanguages:
		return cbConfirm
	case chathub.ConfirmPhoneChange:
		if c.Accept {
			return cbPhone + "yes"
		}
		return cbPhone + "no"
	}
	return ""
}

// DecodeCallback parses button data produced by EncodeCallback.
func DecodeCallback(data string) (chathub.Callback, error) {
	switch {
	case strings.HasPrefix(data, cbLanguage):
		code := strings.TrimPrefix(data, cbLanguage)
		if !language.Valid(code) {
			return nil, fmt.Errorf("unknown language in callback %q", data)
		}
		return chathub.ChooseLanguage{Language: language.Language(code)}, nil
	case strings.HasPrefix(data, cbCount):
		n, err := strconv.Atoi(strings.TrimPrefix(data, cbCount))
		if err != nil {
			return nil, fmt.Errorf("bad language count in callback %q: %w", data, err)
		}
		return chathub.LanguageCount{Count: n}, nil
	case strings.HasPrefix(data, cbToggle):
		code := strings.TrimPrefix(data, cbToggle)
		if !language.Valid(code) {
			return nil, fmt.Errorf("unknown language in callback %q", data)
		}
		return chathub.ToggleLanguage{Language: language.Language(code)}, nil
	case data == cbConfirm:
		return chathub.ConfirmLanguages{}, nil
	case data == cbPhone+"yes":
		return chathub.ConfirmPhoneChange{Accept: true}, nil
	case data == cbPhone+"no":
		return chathub.ConfirmPhoneChange{Accept: false}, nil
	}
	return nil, fmt.Errorf("unknown callback %q", data)
}

// renderer turns keyboard variants into Telegram markup with localized labels.
type renderer struct {
	loc *localization.Localizer
}

// markup returns the ReplyMarkup value for a send, nil for no keyboard.
func (r renderer) markup(kb chathub.Keyboard, locale string) interface{} {
	switch k := kb.(type) {
	case nil:
		return nil
	case chathub.ContactRequest:
		keyboard := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonContact(r.loc.GetString(locale, "button_share_contact")),
		))
		keyboard.ResizeKeyboard = true
		keyboard.OneTimeKeyboard = true
		return keyboard
	case chathub.BeginButton:
		return r.commandButton("/begin")
	case chathub.EndButton:
		return r.commandButton("/end")
	case chathub.RemoveKeyboard:
		return tgbotapi.NewRemoveKeyboard(false)
	default:
		if inline := r.inline(k, locale); inline != nil {
			return *inline
		}
		return nil
	}
}

func (r renderer) commandButton(command string) tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(command)))
	keyboard.ResizeKeyboard = true
	return keyboard
}

// inline renders the inline variants; reply keyboards yield nil.
func (r renderer) inline(kb chathub.Keyboard, locale string) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	switch k := kb.(type) {
	case chathub.LanguageMenu:
		for _, l := range language.Members() {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
				l.Title(),
				EncodeCallback(chathub.ChooseLanguage{Language: l}),
			)))
		}

	case chathub.LanguageCountMenu:
		var row []tgbotapi.InlineKeyboardButton
		for i := 1; i <= k.Max; i++ {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(i), EncodeCallback(chathub.LanguageCount{Count: i})))
		}
		rows = append(rows, row)

	case chathub.LanguageSelect:
		selected := make(map[language.Language]bool, len(k.Selected))
		for _, l := range k.Selected {
			selected[l] = true
		}
		for _, l := range language.Members() {
			mark := "⬜"
			if selected[l] {
				mark = "✅"
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
				mark+" "+l.Title(),
				EncodeCallback(chathub.ToggleLanguage{Language: l}),
			)))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
			r.loc.GetString(locale, "button_confirm"),
			EncodeCallback(chathub.ConfirmLanguages{}),
		)))

	case chathub.PhoneChangeConfirm:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(r.loc.GetString(locale, "button_yes"), EncodeCallback(chathub.ConfirmPhoneChange{Accept: true})),
			tgbotapi.NewInlineKeyboardButtonData(r.loc.GetString(locale, "button_no"), EncodeCallback(chathub.ConfirmPhoneChange{Accept: false})),
		))

	default:
		return nil
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
