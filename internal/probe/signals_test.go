package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailprobe/internal/models"
)

const googleIdentifierURL = "https://accounts.google.com/v3/signin/identifier?flowName=GlifWebSignIn"

func TestClassifyGoogle(t *testing.T) {
	cases := []struct {
		name   string
		state  PageState
		kind   models.OutcomeKind
		reason string
	}{
		{
			name:  "password challenge means account exists",
			state: PageState{URL: "https://accounts.google.com/v3/signin/challenge/pwd", OriginalURL: googleIdentifierURL},
			kind:  models.OutcomeDefinitiveValid,
		},
		{
			name: "rejected with account error",
			state: PageState{
				URL:             "https://accounts.google.com/v3/signin/rejected?dsh=1",
				OriginalURL:     googleIdentifierURL,
				GoogleErrorText: "Couldn't find your Google Account",
			},
			kind: models.OutcomeDefinitiveInvalid,
		},
		{
			name:  "rejected without error text stays ambiguous",
			state: PageState{URL: "https://accounts.google.com/v3/signin/rejected", OriginalURL: googleIdentifierURL},
			kind:  models.OutcomeAmbiguous,
		},
		{
			name:   "ipp challenge is captcha",
			state:  PageState{URL: "https://accounts.google.com/v2/challenge/ipp", OriginalURL: googleIdentifierURL},
			kind:   models.OutcomeAmbiguous,
			reason: "CAPTCHA challenge",
		},
		{
			name:  "other security challenge means account exists",
			state: PageState{URL: "https://accounts.google.com/v3/signin/challenge/dp", OriginalURL: googleIdentifierURL},
			kind:  models.OutcomeDefinitiveValid,
		},
		{
			name: "unchanged identifier url with error node",
			state: PageState{
				URL:             googleIdentifierURL,
				OriginalURL:     googleIdentifierURL,
				GoogleErrorText: "Couldn't find your Google Account",
			},
			kind: models.OutcomeDefinitiveInvalid,
		},
		{
			name:  "unchanged identifier url without error",
			state: PageState{URL: googleIdentifierURL, OriginalURL: googleIdentifierURL},
			kind:  models.OutcomeAmbiguous,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := ClassifyGoogle(tc.state)
			assert.Equal(t, tc.kind, out.Kind)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, out.Reason)
			}
		})
	}
}

func TestClassifyMicrosoft(t *testing.T) {
	base := "https://login.microsoftonline.com/"

	t.Run("multi account phrase is valid", func(t *testing.T) {
		out := ClassifyMicrosoft(PageState{
			URL:              base,
			OriginalURL:      base,
			LoginDescription: "This email is used with more than one account from Microsoft. Which one do you want to use?",
		})
		assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)
	})

	t.Run("french multi account phrase is valid", func(t *testing.T) {
		out := ClassifyMicrosoft(PageState{
			URL:              base,
			OriginalURL:      base,
			LoginDescription: "Il semble que cet e-mail est utilisé avec plus d'un compte Microsoft.",
		})
		assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)
	})

	t.Run("visible password field is valid", func(t *testing.T) {
		out := ClassifyMicrosoft(PageState{URL: base, OriginalURL: base, PasswordFieldVisible: true})
		assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)
	})

	t.Run("username error is invalid", func(t *testing.T) {
		out := ClassifyMicrosoft(PageState{URL: base, OriginalURL: base, UsernameErrorVisible: true})
		assert.Equal(t, models.OutcomeDefinitiveInvalid, out.Kind)
	})

	t.Run("foreign login redirect is custom", func(t *testing.T) {
		out := ClassifyMicrosoft(PageState{
			URL:         "https://sso.contoso.example/login?redirect=...",
			OriginalURL: base,
		})
		assert.Equal(t, models.OutcomeCustom, out.Kind)
	})

	t.Run("no rejection or error is accepted", func(t *testing.T) {
		out := ClassifyMicrosoft(PageState{URL: base, OriginalURL: base})
		assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)
		assert.Equal(t, "Email accepted (no rejection or error)", out.Reason)
	})
}

func TestClassifyYahoo(t *testing.T) {
	base := "https://login.yahoo.com/"

	out := ClassifyYahoo(PageState{URL: "https://login.yahoo.com/account/challenge/password", OriginalURL: base})
	assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)

	out = ClassifyYahoo(PageState{URL: base, OriginalURL: base, YahooErrorVisible: true})
	assert.Equal(t, models.OutcomeDefinitiveInvalid, out.Kind)

	out = ClassifyYahoo(PageState{URL: base, OriginalURL: base})
	assert.Equal(t, models.OutcomeAmbiguous, out.Kind)
}

func TestClassifyGeneric(t *testing.T) {
	base := "https://mail.zoho.example/signin"

	out := ClassifyGeneric(PageState{URL: base, OriginalURL: base, PasswordFieldVisible: true})
	assert.Equal(t, models.OutcomeDefinitiveValid, out.Kind)

	out = ClassifyGeneric(PageState{URL: base, OriginalURL: base, GenericErrorText: "We could not find an account with that email"})
	assert.Equal(t, models.OutcomeDefinitiveInvalid, out.Kind)

	out = ClassifyGeneric(PageState{URL: base, OriginalURL: base})
	assert.Equal(t, models.OutcomeAmbiguous, out.Kind)
}
