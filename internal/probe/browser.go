package probe

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"mailprobe/internal/models"
	"mailprobe/internal/provider"
	"mailprobe/internal/ratelimit"
)

// ScreenshotMode controls when the browser probe captures the page.
type ScreenshotMode string

const (
	ScreenshotNone     ScreenshotMode = "none"
	ScreenshotProblems ScreenshotMode = "problems"
	ScreenshotSteps    ScreenshotMode = "steps"
	ScreenshotAll      ScreenshotMode = "all"
)

// BrowserConfig tunes the login-form probe.
type BrowserConfig struct {
	Headless       bool
	Browsers       []string      // engines to try in order, default chromium
	WaitTime       time.Duration // settle time after submitting, default 3s
	ScreenshotMode ScreenshotMode
	ScreenshotDir  string
	ScreenshotKeep int // newest files kept, older pruned
}

type namedBrowser struct {
	name    string
	browser playwright.Browser
}

// BrowserProbe drives a real browser to a provider's login form, enters
// the address and classifies what the provider does with it. One
// browser context per address, always closed. Inconclusive
// classifications are retried on the next configured browser engine.
type BrowserProbe struct {
	cfg      BrowserConfig
	pw       *playwright.Playwright
	browsers []namedBrowser
	limiter  *ratelimit.Limiter
	log      *zap.Logger

	// Overridable for tests.
	runSession func(ctx context.Context, b playwright.Browser, address string, tag provider.Tag, loginURL string) models.ProbeOutcome
}

// NewBrowserProbe starts playwright and launches every configured
// browser once; per address only fresh contexts are created.
func NewBrowserProbe(cfg BrowserConfig, limiter *ratelimit.Limiter, log *zap.Logger) (*BrowserProbe, error) {
	if len(cfg.Browsers) == 0 {
		cfg.Browsers = []string{"chromium"}
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 3 * time.Second
	}
	if cfg.ScreenshotMode == "" {
		cfg.ScreenshotMode = ScreenshotNone
	}
	if cfg.ScreenshotKeep <= 0 {
		cfg.ScreenshotKeep = 200
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright start: %w", err)
	}

	p := &BrowserProbe{
		cfg:     cfg,
		pw:      pw,
		limiter: limiter,
		log:     log,
	}
	p.runSession = p.probeURL

	for _, name := range cfg.Browsers {
		browser, err := launchBrowser(pw, name, cfg.Headless)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("browser launch %s: %w", name, err)
		}
		p.browsers = append(p.browsers, namedBrowser{name: name, browser: browser})
	}
	return p, nil
}

func launchBrowser(pw *playwright.Playwright, name string, headless bool) (playwright.Browser, error) {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	}
	switch strings.ToLower(name) {
	case "firefox":
		return pw.Firefox.Launch(opts)
	case "webkit":
		return pw.WebKit.Launch(opts)
	case "chromium", "chrome":
		return pw.Chromium.Launch(opts)
	}
	return nil, fmt.Errorf("unknown browser %q", name)
}

// Close shuts the browsers and the playwright driver down.
func (p *BrowserProbe) Close() {
	for _, nb := range p.browsers {
		nb.browser.Close()
	}
	if p.pw != nil {
		p.pw.Stop()
	}
}

func (p *BrowserProbe) Name() string { return "browser" }

// Probe runs the login-form check on each configured browser until one
// classifies the address conclusively. Within a browser the fallback
// login surface, if the provider has one, is retried first.
func (p *BrowserProbe) Probe(ctx context.Context, address string, tag provider.Tag) models.ProbeOutcome {
	primary, _ := provider.LoginURL(tag)
	if primary == "" {
		return models.ProbeOutcome{
			Kind:   models.OutcomeError,
			Reason: "No login surface known for provider",
		}
	}

	_, domain := splitAddress(address)
	if err := p.limiter.Wait(ctx, domain); err != nil {
		return errOutcome("rate limit wait interrupted", err)
	}
	defer p.limiter.Record(domain)

	var (
		best models.ProbeOutcome
		ran  bool
	)
	for _, nb := range p.browsers {
		out := p.probeSurfaces(ctx, nb.browser, address, tag)
		if out.Definitive() {
			return out
		}
		p.log.Debug("browser inconclusive, trying next engine",
			zap.String("address", address),
			zap.String("browser", nb.name),
			zap.String("outcome", string(out.Kind)))
		if !ran || outcomeRank(out.Kind) >= outcomeRank(best.Kind) {
			best = out
		}
		ran = true
	}
	return best
}

// probeSurfaces runs one browser over the provider's login surfaces:
// the primary URL, then the fallback when the first pass stays
// inconclusive.
func (p *BrowserProbe) probeSurfaces(ctx context.Context, b playwright.Browser, address string, tag provider.Tag) models.ProbeOutcome {
	primary, fallback := provider.LoginURL(tag)

	out := p.runSession(ctx, b, address, tag, primary)
	if fallback != "" && (out.Kind == models.OutcomeAmbiguous || out.Kind == models.OutcomeCustom || out.Kind == models.OutcomeError) {
		p.log.Debug("retrying on fallback login surface",
			zap.String("address", address), zap.String("url", fallback))
		second := p.runSession(ctx, b, address, tag, fallback)
		if second.Definitive() || out.Kind == models.OutcomeError {
			return second
		}
	}
	return out
}

// outcomeRank orders inconclusive outcomes: custom beats ambiguous
// beats error.
func outcomeRank(kind models.OutcomeKind) int {
	switch kind {
	case models.OutcomeCustom:
		return 2
	case models.OutcomeAmbiguous:
		return 1
	}
	return 0
}

func (p *BrowserProbe) probeURL(ctx context.Context, b playwright.Browser, address string, tag provider.Tag, loginURL string) (out models.ProbeOutcome) {
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(randomUserAgent()),
	})
	if err != nil {
		return errOutcome("browser context failed", err)
	}
	defer bctx.Close()

	defer func() {
		if r := recover(); r != nil {
			out = errOutcome("browser session panicked", fmt.Errorf("%v", r))
		}
	}()

	page, err := bctx.NewPage()
	if err != nil {
		return errOutcome("browser page failed", err)
	}

	if _, err := page.Goto(loginURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	}); err != nil {
		return errOutcome("login page navigation failed", err)
	}
	p.capture(page, "loaded", false)

	field, err := p.findEmailField(page)
	if err != nil {
		p.capture(page, "no-email-field", true)
		return errOutcome("email field not found", err)
	}

	if err := p.humanType(field, address); err != nil {
		return errOutcome("typing failed", err)
	}
	p.capture(page, "filled", false)

	button, err := p.findNextButton(page)
	if err != nil {
		p.capture(page, "no-next-button", true)
		return errOutcome("next button not found", err)
	}
	if err := p.moveAndClick(page, button); err != nil {
		return errOutcome("click failed", err)
	}

	if ctx.Err() != nil {
		return errOutcome("cancelled", ctx.Err())
	}
	page.WaitForTimeout(float64(p.cfg.WaitTime.Milliseconds()))
	p.capture(page, "submitted", false)

	state := p.collectState(page, loginURL)
	switch tag {
	case provider.Gmail, provider.CustomGoogle:
		out = ClassifyGoogle(state)
	case provider.Microsoft:
		out = ClassifyMicrosoft(state)
	case provider.Yahoo:
		out = ClassifyYahoo(state)
	default:
		out = ClassifyGeneric(state)
	}

	if !out.Definitive() {
		p.capture(page, "inconclusive", true)
	}
	return out
}

// findEmailField walks the selector chain and falls back to the first
// visible text or email input.
func (p *BrowserProbe) findEmailField(page playwright.Page) (playwright.ElementHandle, error) {
	for _, sel := range emailFieldSelectors {
		el, err := page.QuerySelector(sel)
		if err != nil || el == nil {
			continue
		}
		if visible, _ := el.IsVisible(); visible {
			return el, nil
		}
	}
	return nil, fmt.Errorf("no visible email input on page")
}

// findNextButton tries exact text matches across locales, then known
// ids, then generic submit buttons, then any visible enabled button.
func (p *BrowserProbe) findNextButton(page playwright.Page) (playwright.ElementHandle, error) {
	buttons, err := page.QuerySelectorAll("button, input[type='submit'], div[role='button']")
	if err == nil {
		for _, b := range buttons {
			visible, _ := b.IsVisible()
			if !visible {
				continue
			}
			text, _ := b.InnerText()
			text = strings.ToLower(strings.TrimSpace(text))
			for _, want := range nextButtonTexts {
				if text == want {
					return b, nil
				}
			}
		}
	}

	for _, id := range nextButtonIDs {
		el, err := page.QuerySelector(id)
		if err != nil || el == nil {
			continue
		}
		if visible, _ := el.IsVisible(); visible {
			return el, nil
		}
	}

	if el, err := page.QuerySelector("button[type='submit']"); err == nil && el != nil {
		if visible, _ := el.IsVisible(); visible {
			return el, nil
		}
	}

	if buttons != nil {
		for _, b := range buttons {
			visible, _ := b.IsVisible()
			enabled, _ := b.IsEnabled()
			if visible && enabled {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("no usable submit button on page")
}

// humanType clears the field and types with 50-200ms inter-key delays.
func (p *BrowserProbe) humanType(field playwright.ElementHandle, text string) error {
	if err := field.Fill(""); err != nil {
		return err
	}
	for _, r := range text {
		delay := float64(50 + rand.Intn(151))
		if err := field.Type(string(r), playwright.ElementHandleTypeOptions{
			Delay: playwright.Float(delay),
		}); err != nil {
			return err
		}
	}
	return nil
}

// moveAndClick wanders the cursor to a random point, pauses, then moves
// onto the element with jitter and clicks. Native click first, then a
// JavaScript click as fallback.
func (p *BrowserProbe) moveAndClick(page playwright.Page, el playwright.ElementHandle) error {
	mouse := page.Mouse()
	_ = mouse.Move(float64(rand.Intn(800)+50), float64(rand.Intn(500)+50))
	page.WaitForTimeout(float64(100 + rand.Intn(201)))

	if box, err := el.BoundingBox(); err == nil && box != nil {
		jitterX := float64(rand.Intn(11) - 5)
		jitterY := float64(rand.Intn(11) - 5)
		_ = mouse.Move(box.X+box.Width/2+jitterX, box.Y+box.Height/2+jitterY)
	}

	if err := el.Click(); err == nil {
		return nil
	}
	if _, err := el.Evaluate("el => el.click()"); err != nil {
		return fmt.Errorf("native and JS click both failed: %w", err)
	}
	return nil
}

// collectState captures every signal the classifiers consume.
func (p *BrowserProbe) collectState(page playwright.Page, originalURL string) PageState {
	state := PageState{
		URL:         page.URL(),
		OriginalURL: originalURL,
	}

	if el, err := page.QuerySelector(`div.dMNVAe[jsname="OZNMeb"]`); err == nil && el != nil {
		if text, err := el.InnerText(); err == nil {
			state.GoogleErrorText = strings.TrimSpace(text)
		}
	}

	if el, err := page.QuerySelector("#loginDescription"); err == nil && el != nil {
		if text, err := el.InnerText(); err == nil {
			state.LoginDescription = strings.TrimSpace(text)
		}
	}

	if el, err := page.QuerySelector("#usernameError"); err == nil && el != nil {
		state.UsernameErrorVisible, _ = el.IsVisible()
	}

	if el, err := page.QuerySelector("p#username-error.error-msg"); err == nil && el != nil {
		state.YahooErrorVisible, _ = el.IsVisible()
	}

	state.PasswordFieldVisible = p.hasVisiblePasswordField(page)

	for _, sel := range []string{".error", ".error-message", "[role='alert']"} {
		el, err := page.QuerySelector(sel)
		if err != nil || el == nil {
			continue
		}
		if visible, _ := el.IsVisible(); visible {
			if text, err := el.InnerText(); err == nil && strings.TrimSpace(text) != "" {
				state.GenericErrorText = strings.TrimSpace(text)
				break
			}
		}
	}

	return state
}

// hasVisiblePasswordField ignores fields the page parks off screen
// while the identifier stage is active.
func (p *BrowserProbe) hasVisiblePasswordField(page playwright.Page) bool {
	fields, err := page.QuerySelectorAll("input[type='password']")
	if err != nil {
		return false
	}
	for _, f := range fields {
		if visible, _ := f.IsVisible(); !visible {
			continue
		}
		if v, _ := f.GetAttribute("aria-hidden"); v == "true" {
			continue
		}
		if v, _ := f.GetAttribute("tabindex"); v == "-1" {
			continue
		}
		class, _ := f.GetAttribute("class")
		hidden := false
		for _, h := range hiddenPasswordClasses {
			if strings.Contains(class, h) {
				hidden = true
				break
			}
		}
		if !hidden {
			return true
		}
	}
	return false
}

// capture writes a screenshot according to the configured mode and
// prunes old files beyond the retention cap.
func (p *BrowserProbe) capture(page playwright.Page, stage string, problem bool) {
	switch p.cfg.ScreenshotMode {
	case ScreenshotAll:
	case ScreenshotSteps:
		if stage != "loaded" && stage != "submitted" {
			return
		}
	case ScreenshotProblems:
		if !problem {
			return
		}
	default:
		return
	}

	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%d_%s_%s.png", time.Now().Unix(), stage, uuid.NewString()[:8])
	path := filepath.Join(p.cfg.ScreenshotDir, name)
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	}); err != nil {
		p.log.Debug("screenshot failed", zap.Error(err))
		return
	}
	p.pruneScreenshots()
}

func (p *BrowserProbe) pruneScreenshots() {
	entries, err := os.ReadDir(p.cfg.ScreenshotDir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= p.cfg.ScreenshotKeep {
		return
	}
	// Timestamps prefix the names, so lexical order is age order.
	sort.Strings(names)
	for _, name := range names[:len(names)-p.cfg.ScreenshotKeep] {
		os.Remove(filepath.Join(p.cfg.ScreenshotDir, name))
	}
}
