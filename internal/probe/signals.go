package probe

import (
	"strings"

	"mailprobe/internal/models"
)

// Selector chains for finding the address field, most specific first.
var emailFieldSelectors = []string{
	"input[type='email']",
	"input[name='email']",
	"input[name='username']",
	"input[name='loginfmt']",
	"input#identifierId",
	"input#login-username",
	"input[type='text']",
}

// Known next-button ids per provider surface.
var nextButtonIDs = []string{
	"#identifierNext",
	"#idSIButton9",
	"#login-signin",
}

// Exact-match button texts across locales.
var nextButtonTexts = []string{
	"next", "suivant", "continuer", "continue", "weiter", "siguiente",
	"avanti", "próximo", "далее", "次へ", "sign in", "se connecter", "log in",
}

// Classes Microsoft uses to park a password field off screen while the
// identifier stage is still active.
var hiddenPasswordClasses = []string{"moveOffScreen", "Hvu6D", "hidden"}

// Phrases in #loginDescription that mean the address matched more than
// one account, which only happens for existing addresses.
var multiAccountPhrases = []string{
	"this email is used with more than one account",
	"il semble que cet e-mail est utilisé avec plus d'un compte",
	"pick an account",
	"choisissez un compte",
}

// PageState is everything the classifier needs, captured from the live
// page in one pass so classification itself stays pure and testable.
type PageState struct {
	URL         string
	OriginalURL string

	// Google's rejection banner node text, empty when absent.
	GoogleErrorText string

	// Microsoft signals.
	LoginDescription     string
	UsernameErrorVisible bool

	// Yahoo signal.
	YahooErrorVisible bool

	// Shared signals.
	PasswordFieldVisible bool
	GenericErrorText     string
}

// ClassifyGoogle interprets a Google signin transition. URL movement is
// the primary signal; the DOM error node disambiguates rejections.
func ClassifyGoogle(s PageState) models.ProbeOutcome {
	u := s.URL
	ev := map[string]string{"url": u}

	switch {
	case strings.Contains(u, "/signin/challenge/pwd"):
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "URL changed to password challenge", Evidence: ev}
	case strings.Contains(u, "/signin/rejected"):
		if s.GoogleErrorText != "" && strings.Contains(strings.ToLower(s.GoogleErrorText), "couldn't find") {
			return models.ProbeOutcome{Kind: models.OutcomeDefinitiveInvalid, Reason: "Google account does not exist", Evidence: ev}
		}
		return models.ProbeOutcome{Kind: models.OutcomeAmbiguous, Reason: "Sign-in rejected without account error", Evidence: ev}
	case strings.Contains(u, "/challenge/ipp"), strings.Contains(strings.ToLower(u), "captcha"):
		return models.ProbeOutcome{Kind: models.OutcomeAmbiguous, Reason: "CAPTCHA challenge", Evidence: ev}
	case strings.Contains(u, "signin/shadowdisambiguate"):
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Account disambiguation prompt", Evidence: ev}
	case strings.Contains(u, "/signin/challenge"):
		// Any security challenge implies the account exists.
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Security challenge presented", Evidence: ev}
	}

	// Still on the identifier page.
	if s.GoogleErrorText != "" {
		if strings.Contains(strings.ToLower(s.GoogleErrorText), "couldn't find") {
			return models.ProbeOutcome{Kind: models.OutcomeDefinitiveInvalid, Reason: "Google account does not exist", Evidence: ev}
		}
		return models.ProbeOutcome{Kind: models.OutcomeAmbiguous, Reason: "Unrecognized error message", Evidence: ev}
	}
	return models.ProbeOutcome{Kind: models.OutcomeAmbiguous, Reason: "No error or prompt after submit", Evidence: ev}
}

// ClassifyMicrosoft interprets a Microsoft login transition.
func ClassifyMicrosoft(s PageState) models.ProbeOutcome {
	ev := map[string]string{"url": s.URL}

	desc := strings.ToLower(s.LoginDescription)
	for _, phrase := range multiAccountPhrases {
		if desc != "" && strings.Contains(desc, phrase) {
			return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Address matches multiple accounts", Evidence: ev}
		}
	}
	if strings.Contains(s.URL, "signin/shadowdisambiguate") {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Account disambiguation prompt", Evidence: ev}
	}
	if s.PasswordFieldVisible {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Password prompt presented", Evidence: ev}
	}
	if s.UsernameErrorVisible {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveInvalid, Reason: "Microsoft account does not exist", Evidence: ev}
	}
	if redirectedToForeignLogin(s) {
		return models.ProbeOutcome{Kind: models.OutcomeCustom, Reason: "Redirected to tenant sign-in", Evidence: ev}
	}
	// Microsoft accepts unknown identifiers and errors at the password
	// stage; staying on the page without an error is acceptance.
	return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Email accepted (no rejection or error)", Evidence: ev}
}

// ClassifyYahoo interprets a Yahoo login transition.
func ClassifyYahoo(s PageState) models.ProbeOutcome {
	ev := map[string]string{"url": s.URL}

	if strings.Contains(s.URL, "account/challenge") {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "URL changed to account challenge", Evidence: ev}
	}
	if s.YahooErrorVisible {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveInvalid, Reason: "Yahoo account does not exist", Evidence: ev}
	}
	if s.PasswordFieldVisible {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Password prompt presented", Evidence: ev}
	}
	return models.ProbeOutcome{Kind: models.OutcomeAmbiguous, Reason: "No conclusive signal after submit", Evidence: ev}
}

var genericErrorPhrases = []string{
	"couldn't find", "could not find", "doesn't exist", "does not exist",
	"no account", "not recognized", "unknown user", "invalid email",
	"account not found",
}

// ClassifyGeneric covers providers without a dedicated signal table.
func ClassifyGeneric(s PageState) models.ProbeOutcome {
	ev := map[string]string{"url": s.URL}

	if s.PasswordFieldVisible {
		return models.ProbeOutcome{Kind: models.OutcomeDefinitiveValid, Reason: "Password prompt presented", Evidence: ev}
	}
	errText := strings.ToLower(s.GenericErrorText)
	if errText != "" {
		for _, phrase := range genericErrorPhrases {
			if strings.Contains(errText, phrase) {
				return models.ProbeOutcome{Kind: models.OutcomeDefinitiveInvalid, Reason: "Account does not exist", Evidence: ev}
			}
		}
	}
	if redirectedToForeignLogin(s) {
		return models.ProbeOutcome{Kind: models.OutcomeCustom, Reason: "Redirected to unrecognized sign-in", Evidence: ev}
	}
	return models.ProbeOutcome{Kind: models.OutcomeAmbiguous, Reason: "No conclusive signal after submit", Evidence: ev}
}

// redirectedToForeignLogin reports whether the page left the original
// host for another login surface, the signature of tenant SSO.
func redirectedToForeignLogin(s PageState) bool {
	if s.OriginalURL == "" || s.URL == "" {
		return false
	}
	origHost := hostOf(s.OriginalURL)
	curHost := hostOf(s.URL)
	return origHost != "" && curHost != "" && origHost != curHost &&
		strings.Contains(strings.ToLower(s.URL), "login")
}

func hostOf(raw string) string {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}
