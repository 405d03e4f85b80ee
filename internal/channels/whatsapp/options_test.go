package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

func consentButtons() messaging.Buttons {
	return messaging.Buttons{
		Body: "¿Aceptas el tratamiento de datos?",
		Buttons: []messaging.Button{
			{ID: "CONSENT_ACCEPT", Title: "Acepto"},
			{ID: "CONSENT_DECLINE", Title: "No acepto"},
		},
	}
}

func TestButtonsRenderAsNumberedOptions(t *testing.T) {
	book := newOptionBook()
	text := book.renderButtons("573001", consentButtons())

	assert.Contains(t, text, "¿Aceptas el tratamiento de datos?")
	assert.Contains(t, text, "*1.* Acepto")
	assert.Contains(t, text, "*2.* No acepto")
	assert.Contains(t, text, optionsHint)

	id, ok := book.resolve("573001", " 2 ")
	require.True(t, ok)
	assert.Equal(t, "CONSENT_DECLINE", id)
}

func TestResolveByTitle(t *testing.T) {
	book := newOptionBook()
	book.renderButtons("573001", consentButtons())

	id, ok := book.resolve("573001", "acepto")
	require.True(t, ok)
	assert.Equal(t, "CONSENT_ACCEPT", id)
}

func TestReplySealsOffers(t *testing.T) {
	book := newOptionBook()
	book.renderButtons("573001", consentButtons())

	_, ok := book.resolve("573001", "hola")
	assert.False(t, ok)
	_, ok = book.resolve("573001", "1")
	assert.False(t, ok, "options are gone once the user replied")
}

func TestConsecutiveOffersContinueNumbering(t *testing.T) {
	book := newOptionBook()
	card := func(addr string) messaging.Buttons {
		return messaging.Buttons{Body: "Usuario " + addr, Buttons: []messaging.Button{
			{ID: "ADM_ROLE_VIEWER_" + addr, Title: "Viewer"},
			{ID: "ADM_ROLE_BLOCKED_" + addr, Title: "Bloquear"},
		}}
	}
	book.renderButtons("admin", card("111"))
	second := book.renderButtons("admin", card("222"))
	assert.Contains(t, second, "*3.* Viewer")

	id, ok := book.resolve("admin", "4")
	require.True(t, ok)
	assert.Equal(t, "ADM_ROLE_BLOCKED_222", id)

	// titles repeat across cards, so they are ambiguous
	book.renderButtons("admin", card("111"))
	book.renderButtons("admin", card("222"))
	_, ok = book.resolve("admin", "viewer")
	assert.False(t, ok)
}

func TestListRendersSectionsAndDescriptions(t *testing.T) {
	book := newOptionBook()
	text := book.renderList("573001", messaging.List{
		Body: "Menú de reportes",
		Sections: []messaging.Section{{
			Title: "Zonas",
			Rows: []messaging.Row{
				{ID: "RP_FULL", Title: "Todas", Description: "Reporte completo"},
				{ID: "RP_ROZO", Title: "Rozo"},
			},
		}},
	})
	assert.Contains(t, text, "*Zonas*")
	assert.Contains(t, text, "*1.* Todas - _Reporte completo_")
	assert.Contains(t, text, "*2.* Rozo")

	id, ok := book.resolve("573001", "2.")
	require.True(t, ok)
	assert.Equal(t, "RP_ROZO", id)
}

func TestOutOfRangeNumberDoesNotMatch(t *testing.T) {
	book := newOptionBook()
	book.renderButtons("573001", consentButtons())
	_, ok := book.resolve("573001", "9")
	assert.False(t, ok)

	book.forget("573001")
	_, ok = book.resolve("573001", "1")
	assert.False(t, ok)
}
