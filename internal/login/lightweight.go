package login

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"ghvault/internal/pkg/httpclient"
	"ghvault/internal/totp"
)

// Markers of a page rendered for an authenticated user. Only session
// controls count; words like "dashboard" show up in marketing copy on
// plenty of login pages.
var authenticatedMarkers = []string{"logout", "sign out", "/logout", "用户中心"}

// Markers of a rejected credential submission.
var invalidCredentialMarkers = []string{
	"incorrect username or password",
	"invalid credentials",
	"invalid username",
	"wrong password",
	"login failed",
	"密码错误",
}

// Lightweight drives login forms over plain HTTP with a cookie-jar
// session. It is the first tier of the engine; when the target serves an
// anti-automation challenge it fails with KindAntiAutomation and the
// engine escalates to the browser tier.
type Lightweight struct {
	userAgent string
	timeout   time.Duration
	detector  *Detector
	oauth     bool
	logger    *zap.Logger
}

// NewLightweight builds the HTTP tier. oauth selects the GitHub OAuth
// flow; otherwise credentials are posted to the target's own login form.
func NewLightweight(userAgent string, timeout time.Duration, oauth bool, logger *zap.Logger) *Lightweight {
	return &Lightweight{
		userAgent: userAgent,
		timeout:   timeout,
		detector:  NewDetector(),
		oauth:     oauth,
		logger:    logger,
	}
}

func (l *Lightweight) Name() string {
	return MethodHTTP
}

func (l *Lightweight) Execute(ctx context.Context, creds Credentials, targetURL string) Outcome {
	out := Outcome{AccountID: creds.AccountID, Username: creds.Username, Status: StatusFailed, Attempts: 1}

	session := httpclient.NewSession().
		WithUserAgent(l.userAgent).
		WithTimeout(l.timeout)

	page, err := l.fetch(ctx, session, targetURL)
	if err != nil {
		out.Err = Classify(err)
		return out
	}
	if lerr := l.screen(page); lerr != nil {
		out.Err = lerr
		return out
	}

	if looksAuthenticated(page.Body) {
		out.Status = StatusAlreadyAuthenticated
		out.Artifact = l.artifact(ctx, session, targetURL, page)
		return out
	}

	var final PageInfo
	var lerr *Error
	if l.oauth {
		final, lerr = l.oauthFlow(ctx, session, creds, targetURL, page)
	} else {
		final, lerr = l.directFlow(ctx, session, creds, targetURL, page)
	}
	if lerr != nil {
		out.Err = lerr
		return out
	}

	if strings.Contains(final.Body, "type=\"password\"") || strings.Contains(final.Body, "type='password'") {
		out.Err = newError(KindUnexpectedPage, "still on a credential form at %s", final.FinalURL)
		return out
	}
	if !looksAuthenticated(final.Body) && !onTargetHost(final.FinalURL, targetURL) {
		out.Err = newError(KindUnexpectedPage, "landed on %s without session markers", final.FinalURL)
		return out
	}

	out.Status = StatusSuccess
	out.Artifact = l.artifact(ctx, session, targetURL, final)
	l.logger.Info("http login succeeded",
		zap.Uint("account_id", creds.AccountID),
		zap.String("username", creds.Username),
		zap.String("final_url", final.FinalURL))
	return out
}

// directFlow posts credentials to the target's own login form.
func (l *Lightweight) directFlow(ctx context.Context, session *httpclient.Client, creds Credentials, targetURL string, page PageInfo) (PageInfo, *Error) {
	form, page, lerr := l.locateLoginForm(ctx, session, targetURL, page)
	if lerr != nil {
		return page, lerr
	}

	fields := form.Fields
	fields[form.UserField] = creds.Username
	fields[form.PassField] = creds.Password
	if form.OTPField != "" && creds.TOTPSecret != "" {
		code, err := totp.Generate(creds.TOTPSecret, time.Now())
		if err != nil {
			return page, newError(KindConfiguration, "stored passcode secret is not valid base32")
		}
		fields[form.OTPField] = code.Token
	}

	result, err := l.submit(ctx, session, form.Action, fields)
	if err != nil {
		return page, Classify(err)
	}
	if lerr := l.screen(result); lerr != nil {
		return result, lerr
	}
	if marker := matchMarker(result.Body, invalidCredentialMarkers); marker != "" {
		return result, newError(KindInvalidCredentials, "target rejected credentials (%q)", marker)
	}
	return result, nil
}

// oauthFlow reaches GitHub through the target's OAuth entry point, signs
// in there, completes two-factor when prompted, and rides the redirect
// chain back to the target.
func (l *Lightweight) oauthFlow(ctx context.Context, session *httpclient.Client, creds Credentials, targetURL string, page PageInfo) (PageInfo, *Error) {
	entry := l.discoverOAuthEntry(ctx, session, targetURL, page)
	if entry.Body == "" {
		return entry, newError(KindUnexpectedPage, "no oauth entry point reachable on target")
	}
	if lerr := l.screen(entry); lerr != nil {
		return entry, lerr
	}

	// Already authorized sessions skip the GitHub login page entirely.
	if onTargetHost(entry.FinalURL, targetURL) {
		return entry, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(entry.Body))
	if err != nil {
		return entry, wrapError(KindUnexpectedPage, err, "unparseable sign-in page")
	}
	form := parseLoginForm(doc, entry.FinalURL)
	if form == nil {
		return entry, newError(KindUnexpectedPage, "no sign-in form at %s", entry.FinalURL)
	}

	fields := form.Fields
	fields[form.UserField] = creds.Username
	fields[form.PassField] = creds.Password

	result, err2 := l.submit(ctx, session, form.Action, fields)
	if err2 != nil {
		return entry, Classify(err2)
	}
	if lerr := l.screen(result); lerr != nil {
		return result, lerr
	}
	if marker := matchMarker(result.Body, invalidCredentialMarkers); marker != "" {
		return result, newError(KindInvalidCredentials, "identity provider rejected credentials (%q)", marker)
	}

	if isTwoFactorPage(result.FinalURL) {
		var lerr *Error
		result, lerr = l.submitTwoFactor(ctx, session, creds, result)
		if lerr != nil {
			return result, lerr
		}
	}

	result, lerr := l.authorizeIfPrompted(ctx, session, result)
	if lerr != nil {
		return result, lerr
	}
	return result, nil
}

// submitTwoFactor generates the passcode at submission time so it cannot
// expire between generation and use.
func (l *Lightweight) submitTwoFactor(ctx context.Context, session *httpclient.Client, creds Credentials, page PageInfo) (PageInfo, *Error) {
	if creds.TOTPSecret == "" {
		return page, newError(KindConfiguration, "two-factor required but no passcode secret stored")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err != nil {
		return page, wrapError(KindUnexpectedPage, err, "unparseable two-factor page")
	}
	form := parseOTPForm(doc, page.FinalURL)
	if form == nil {
		return page, newError(KindUnexpectedPage, "no passcode form at %s", page.FinalURL)
	}

	code, err := totp.Generate(creds.TOTPSecret, time.Now())
	if err != nil {
		return page, newError(KindConfiguration, "stored passcode secret is not valid base32")
	}

	fields := form.Fields
	fields[form.OTPField] = code.Token

	result, err2 := l.submit(ctx, session, form.Action, fields)
	if err2 != nil {
		return page, Classify(err2)
	}
	if isTwoFactorPage(result.FinalURL) || strings.Contains(strings.ToLower(result.Body), "two-factor authentication failed") {
		return result, newError(KindTOTPRejected, "identity provider rejected the one-time passcode")
	}
	return result, nil
}

// authorizeIfPrompted clicks through a first-time OAuth consent screen.
func (l *Lightweight) authorizeIfPrompted(ctx context.Context, session *httpclient.Client, page PageInfo) (PageInfo, *Error) {
	if !strings.Contains(page.FinalURL, "/login/oauth/authorize") {
		return page, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err != nil {
		return page, wrapError(KindUnexpectedPage, err, "unparseable consent page")
	}
	form := parseForm(doc, page.FinalURL, "input[name='authorize'], button[name='authorize']")
	if form == nil {
		return page, newError(KindUnexpectedPage, "consent prompt without an authorize form")
	}
	form.Fields["authorize"] = "1"

	result, err2 := l.submit(ctx, session, form.Action, form.Fields)
	if err2 != nil {
		return page, Classify(err2)
	}
	return result, nil
}

// discoverOAuthEntry prefers a link found on the page, then falls back
// to conventional endpoints.
func (l *Lightweight) discoverOAuthEntry(ctx context.Context, session *httpclient.Client, targetURL string, page PageInfo) PageInfo {
	var candidates []string
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body)); err == nil {
		if link := findOAuthLink(doc, page.FinalURL); link != "" {
			candidates = append(candidates, link)
		}
	}
	base := strings.TrimRight(targetURL, "/")
	for _, path := range oauthFallbackPaths {
		candidates = append(candidates, base+path)
	}

	for _, candidate := range candidates {
		entry, err := l.fetch(ctx, session, candidate)
		if err != nil {
			continue
		}
		if entry.StatusCode == 404 {
			continue
		}
		return entry
	}
	return PageInfo{}
}

// locateLoginForm parses the landing page for a password form, probing
// the conventional /login path when the landing page has none.
func (l *Lightweight) locateLoginForm(ctx context.Context, session *httpclient.Client, targetURL string, page PageInfo) (*loginForm, PageInfo, *Error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err == nil {
		if form := parseLoginForm(doc, page.FinalURL); form != nil {
			return form, page, nil
		}
	}

	loginPage, err := l.fetch(ctx, session, strings.TrimRight(targetURL, "/")+"/login")
	if err != nil {
		return nil, page, Classify(err)
	}
	if lerr := l.screen(loginPage); lerr != nil {
		return nil, loginPage, lerr
	}
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(loginPage.Body))
	if err != nil {
		return nil, loginPage, wrapError(KindUnexpectedPage, err, "unparseable login page")
	}
	form := parseLoginForm(doc, loginPage.FinalURL)
	if form == nil {
		return nil, loginPage, newError(KindUnexpectedPage, "no login form found on target")
	}
	return form, loginPage, nil
}

func (l *Lightweight) fetch(ctx context.Context, session *httpclient.Client, pageURL string) (PageInfo, error) {
	resp, err := session.Request().SetContext(ctx).Get(pageURL)
	if err != nil {
		return PageInfo{}, err
	}
	return pageFromResponse(resp), nil
}

func (l *Lightweight) submit(ctx context.Context, session *httpclient.Client, action string, fields map[string]string) (PageInfo, error) {
	resp, err := session.Request().
		SetContext(ctx).
		SetFormData(fields).
		Post(action)
	if err != nil {
		return PageInfo{}, err
	}
	return pageFromResponse(resp), nil
}

// screen rejects challenge pages before any further parsing.
func (l *Lightweight) screen(page PageInfo) *Error {
	blocked, signals := l.detector.Detect(page)
	if !blocked {
		return nil
	}
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = s.Name
	}
	l.logger.Warn("anti-automation challenge detected",
		zap.String("url", page.FinalURL),
		zap.Strings("signals", names))
	return newError(KindAntiAutomation, "challenge at %s (%s)", page.FinalURL, strings.Join(names, ","))
}

func (l *Lightweight) artifact(ctx context.Context, session *httpclient.Client, targetURL string, page PageInfo) *SessionArtifact {
	cookies := session.Cookies(targetURL)
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return &SessionArtifact{
		Method:      MethodHTTP,
		FinalURL:    page.FinalURL,
		CookieCount: len(cookies),
		CookieNames: names,
		Balance:     fetchBalance(ctx, session, targetURL, page.Body),
		LoginTime:   time.Now().UTC(),
	}
}

func pageFromResponse(resp *resty.Response) PageInfo {
	finalURL := resp.Request.URL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}
	return PageInfo{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		FinalURL:   finalURL,
		Body:       string(resp.Body()),
	}
}

func looksAuthenticated(body string) bool {
	return matchMarker(body, authenticatedMarkers) != ""
}

func matchMarker(body string, markers []string) string {
	lower := strings.ToLower(body)
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

func isTwoFactorPage(pageURL string) bool {
	return strings.Contains(pageURL, "/sessions/two-factor")
}

func onTargetHost(finalURL, targetURL string) bool {
	return hostOf(finalURL) != "" && hostOf(finalURL) == hostOf(targetURL)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
