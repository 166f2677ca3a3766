package provider

import (
	"context"
	"strings"

	"mailprobe/internal/dnsx"
)

// Tag identifies how an address's mailbox is hosted, which decides the
// probe order.
type Tag string

const (
	Gmail        Tag = "gmail"
	Microsoft    Tag = "microsoft"
	Yahoo        Tag = "yahoo"
	Proton       Tag = "proton"
	Zoho         Tag = "zoho"
	MailRu       Tag = "mailru"
	Yandex       Tag = "yandex"
	CustomGoogle Tag = "custom_google" // Google Workspace hosted domain
	Custom       Tag = "custom"        // unknown hosting
)

// knownDomains maps well-known mail domains straight to their tag,
// skipping the MX lookup.
var knownDomains = map[string]Tag{
	"gmail.com":      Gmail,
	"googlemail.com": Gmail,
	"outlook.com":    Microsoft,
	"hotmail.com":    Microsoft,
	"live.com":       Microsoft,
	"msn.com":        Microsoft,
	"office365.com":  Microsoft,
	"yahoo.com":      Yahoo,
	"ymail.com":      Yahoo,
	"rocketmail.com": Yahoo,
	"protonmail.com": Proton,
	"proton.me":      Proton,
	"pm.me":          Proton,
	"zoho.com":       Zoho,
	"zohomail.com":   Zoho,
	"mail.ru":        MailRu,
	"bk.ru":          MailRu,
	"inbox.ru":       MailRu,
	"list.ru":        MailRu,
	"yandex.ru":      Yandex,
	"yandex.com":     Yandex,
}

// mxSubstrings maps an MX host substring to the tag it implies. Order
// matters: the first match wins.
var mxSubstrings = []struct {
	needle string
	tag    Tag
}{
	{"google", CustomGoogle},
	{"gmail", CustomGoogle},
	{"outlook", Microsoft},
	{"microsoft", Microsoft},
	{"office365", Microsoft},
	{"yahoo", Yahoo},
	{"protonmail", Proton},
	{"proton.me", Proton},
	{"zoho", Zoho},
	{"mail.ru", MailRu},
	{"yandex", Yandex},
}

// Identify derives the provider tag for a domain, consulting MX records
// when the domain itself is not a known provider.
func Identify(ctx context.Context, resolver *dnsx.Resolver, domain string) Tag {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if tag, ok := knownDomains[domain]; ok {
		return tag
	}

	for _, mx := range resolver.MX(ctx, domain) {
		for _, m := range mxSubstrings {
			if strings.Contains(mx, m.needle) {
				if m.tag == CustomGoogle && domain == "gmail.com" {
					return Gmail
				}
				return m.tag
			}
		}
	}
	return Custom
}

// LoginURL returns the login form URL the browser probe drives for a
// provider. The second URL, if any, is a fallback surface tried when the
// first classification is ambiguous.
func LoginURL(tag Tag) (primary, fallback string) {
	switch tag {
	case Gmail, CustomGoogle:
		return "https://accounts.google.com/v3/signin/identifier?flowName=GlifWebSignIn&flowEntry=ServiceLogin", ""
	case Microsoft:
		return "https://login.microsoftonline.com/", "https://login.live.com/"
	case Yahoo:
		return "https://login.yahoo.com/", ""
	case Proton:
		return "https://mail.proton.me/login", ""
	case Zoho:
		return "https://accounts.zoho.com/signin", ""
	case MailRu:
		return "https://account.mail.ru/login", ""
	case Yandex:
		return "https://passport.yandex.ru/auth", ""
	}
	return "", ""
}

// ProbeKind names a probe technique in an order table.
type ProbeKind string

const (
	ProbeSMTP    ProbeKind = "smtp"
	ProbeAPI     ProbeKind = "api"
	ProbeBrowser ProbeKind = "browser"
)

// Order returns the probe sequence for a provider. Data, not branching
// code, so per-provider tuning stays in one place.
var orders = map[Tag][]ProbeKind{
	Microsoft:    {ProbeAPI, ProbeBrowser, ProbeSMTP},
	Gmail:        {ProbeSMTP, ProbeBrowser},
	CustomGoogle: {ProbeBrowser, ProbeSMTP},
	Custom:       {ProbeSMTP},
	Yahoo:        {ProbeBrowser, ProbeSMTP},
	Proton:       {ProbeBrowser, ProbeSMTP},
	Zoho:         {ProbeBrowser, ProbeSMTP},
	MailRu:       {ProbeBrowser, ProbeSMTP},
	Yandex:       {ProbeBrowser, ProbeSMTP},
}

func Order(tag Tag) []ProbeKind {
	if o, ok := orders[tag]; ok {
		return o
	}
	return orders[Custom]
}

// DisplayName is the provider string recorded on results.
func DisplayName(tag Tag) string {
	switch tag {
	case Gmail:
		return "Gmail"
	case Microsoft:
		return "Microsoft"
	case Yahoo:
		return "Yahoo"
	case Proton:
		return "Proton"
	case Zoho:
		return "Zoho"
	case MailRu:
		return "Mail.ru"
	case Yandex:
		return "Yandex"
	case CustomGoogle:
		return "Google Workspace"
	}
	return "Custom"
}
