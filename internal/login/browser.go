package login

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ghvault/internal/totp"
)

// Browser is the second tier of the engine: a headless Chrome session
// that executes the challenge JavaScript a plain HTTP client cannot.
// Instances are expensive, so concurrent sessions are capped by a
// weighted semaphore shared across all tasks.
type Browser struct {
	pool       *semaphore.Weighted
	waitWindow time.Duration
	headless   bool
	userAgent  string
	oauth      bool
	logger     *zap.Logger
}

// NewBrowser builds the browser tier. poolSize caps concurrent Chrome
// sessions; waitWindow bounds how long a challenge may take to clear.
func NewBrowser(poolSize int64, waitWindow time.Duration, headless bool, userAgent string, oauth bool, logger *zap.Logger) *Browser {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Browser{
		pool:       semaphore.NewWeighted(poolSize),
		waitWindow: waitWindow,
		headless:   headless,
		userAgent:  userAgent,
		oauth:      oauth,
		logger:     logger,
	}
}

func (b *Browser) Name() string {
	return MethodBrowser
}

func (b *Browser) Execute(ctx context.Context, creds Credentials, targetURL string) Outcome {
	out := Outcome{AccountID: creds.AccountID, Username: creds.Username, Status: StatusFailed, Attempts: 1}

	if err := b.pool.Acquire(ctx, 1); err != nil {
		out.Err = Classify(err)
		return out
	}
	defer b.pool.Release(1)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(b.userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(targetURL)); err != nil {
		out.Err = Classify(err)
		return out
	}

	page, lerr := b.awaitChallengeClear(taskCtx)
	if lerr != nil {
		out.Err = lerr
		return out
	}

	if looksAuthenticated(page.Body) {
		out.Status = StatusAlreadyAuthenticated
		out.Artifact = b.artifact(taskCtx, page)
		return out
	}

	if b.oauth {
		page, lerr = b.oauthFlow(taskCtx, creds, targetURL)
	} else {
		page, lerr = b.directFlow(taskCtx, creds)
	}
	if lerr != nil {
		out.Err = lerr
		return out
	}

	if marker := matchMarker(page.Body, invalidCredentialMarkers); marker != "" {
		out.Err = newError(KindInvalidCredentials, "target rejected credentials (%q)", marker)
		return out
	}
	if !looksAuthenticated(page.Body) && !onTargetHost(page.FinalURL, targetURL) {
		out.Err = newError(KindUnexpectedPage, "landed on %s without session markers", page.FinalURL)
		return out
	}

	out.Status = StatusSuccess
	out.Artifact = b.artifact(taskCtx, page)
	b.logger.Info("browser login succeeded",
		zap.Uint("account_id", creds.AccountID),
		zap.String("username", creds.Username),
		zap.String("final_url", page.FinalURL))
	return out
}

// awaitChallengeClear polls the page until the detector stops flagging
// it or the wait window expires. Chrome executes the challenge script on
// its own; this just waits it out.
func (b *Browser) awaitChallengeClear(ctx context.Context) (PageInfo, *Error) {
	deadline := time.Now().Add(b.waitWindow)
	for {
		page, err := b.snapshot(ctx)
		if err != nil {
			return PageInfo{}, Classify(err)
		}
		blocked, _ := NewDetector().Detect(page)
		if !blocked {
			return page, nil
		}
		if time.Now().After(deadline) {
			return page, newError(KindAntiAutomation, "challenge did not clear within %s at %s", b.waitWindow, page.FinalURL)
		}
		select {
		case <-ctx.Done():
			return page, Classify(ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *Browser) directFlow(ctx context.Context, creds Credentials) (PageInfo, *Error) {
	userSel := `form input[name='username'], form input[name='login'], form input[name='email'], form input[type='email'], form input[type='text']`
	passSel := `form input[type='password']`

	err := chromedp.Run(ctx,
		chromedp.WaitVisible(passSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, creds.Password, chromedp.ByQuery),
		chromedp.Submit(passSel, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return PageInfo{}, Classify(err)
	}
	page, snapErr := b.snapshot(ctx)
	if snapErr != nil {
		return PageInfo{}, Classify(snapErr)
	}
	return page, nil
}

func (b *Browser) oauthFlow(ctx context.Context, creds Credentials, targetURL string) (PageInfo, *Error) {
	// Prefer a visible OAuth link, fall back to the conventional path.
	clickErr := chromedp.Run(ctx,
		chromedp.Click(`a[href*='github']`, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(time.Second),
	)
	if clickErr != nil {
		if err := chromedp.Run(ctx, chromedp.Navigate(strings.TrimRight(targetURL, "/")+oauthFallbackPaths[0])); err != nil {
			return PageInfo{}, Classify(err)
		}
	}

	page, err := b.snapshot(ctx)
	if err != nil {
		return PageInfo{}, Classify(err)
	}
	// Already authorized: the provider bounced us straight back.
	if onTargetHost(page.FinalURL, targetURL) {
		return page, nil
	}

	err2 := chromedp.Run(ctx,
		chromedp.WaitVisible(`input[type='password']`, chromedp.ByQuery),
		chromedp.SendKeys(`#login_field, input[name='login'], input[type='text']`, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[type='password']`, creds.Password, chromedp.ByQuery),
		chromedp.Submit(`input[type='password']`, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err2 != nil {
		return PageInfo{}, Classify(err2)
	}

	page, err = b.snapshot(ctx)
	if err != nil {
		return PageInfo{}, Classify(err)
	}

	if isTwoFactorPage(page.FinalURL) {
		page, lerr := b.submitTwoFactor(ctx, creds)
		if lerr != nil {
			return page, lerr
		}
		return page, nil
	}
	return page, nil
}

func (b *Browser) submitTwoFactor(ctx context.Context, creds Credentials) (PageInfo, *Error) {
	if creds.TOTPSecret == "" {
		return PageInfo{}, newError(KindConfiguration, "two-factor required but no passcode secret stored")
	}
	code, err := totp.Generate(creds.TOTPSecret, time.Now())
	if err != nil {
		return PageInfo{}, newError(KindConfiguration, "stored passcode secret is not valid base32")
	}

	otpSel := `#app_totp, input[autocomplete='one-time-code'], input[name*='otp']`
	err2 := chromedp.Run(ctx,
		chromedp.WaitVisible(otpSel, chromedp.ByQuery),
		chromedp.SendKeys(otpSel, code.Token, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	)
	if err2 != nil {
		return PageInfo{}, Classify(err2)
	}

	page, err := b.snapshot(ctx)
	if err != nil {
		return PageInfo{}, Classify(err)
	}
	if isTwoFactorPage(page.FinalURL) {
		return page, newError(KindTOTPRejected, "identity provider rejected the one-time passcode")
	}
	return page, nil
}

// snapshot reads the current URL and rendered HTML.
func (b *Browser) snapshot(ctx context.Context) (PageInfo, error) {
	var location, html string
	err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return PageInfo{}, err
	}
	return PageInfo{StatusCode: 200, FinalURL: location, Body: html}, nil
}

func (b *Browser) artifact(ctx context.Context, page PageInfo) *SessionArtifact {
	artifact := &SessionArtifact{
		Method:    MethodBrowser,
		FinalURL:  page.FinalURL,
		Balance:   balanceFromHTML(page.Body),
		LoginTime: time.Now().UTC(),
	}

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		artifact.CookieCount = len(cookies)
		for _, c := range cookies {
			artifact.CookieNames = append(artifact.CookieNames, c.Name)
		}
		return nil
	}))
	if err != nil {
		b.logger.Debug("cookie snapshot failed", zap.Error(err))
	}
	return artifact
}
