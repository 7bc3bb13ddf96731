package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser is the minimal surface the harness needs from a browser engine.
// The chromedp implementation is the production one; tests substitute fakes.
// Every call is a single probe or action with no internal retry; bounded
// waiting lives in Resolve and the poller.
type Browser interface {
	// Navigate loads a URL and waits for the document body to be visible.
	Navigate(ctx context.Context, url string) error
	// Location returns the current address.
	Location(ctx context.Context) (string, error)
	// FirstMatch probes the candidate selectors in order and returns the
	// first that matches, or "" when none do. When visible is set, a match
	// must be laid out with non-zero size.
	FirstMatch(ctx context.Context, selectors []string, visible bool) (string, error)
	// Click clicks the element addressed by selector.
	Click(ctx context.Context, selector string) error
	// SetValue deterministically replaces the element's value and fires an
	// input event, so client-side bindings observe the change.
	SetValue(ctx context.Context, selector, value string) error
	// SendKeys types text into the element addressed by selector.
	SendKeys(ctx context.Context, selector, text string) error
	// Value returns the element's current value.
	Value(ctx context.Context, selector string) (string, error)
	// Text returns the element's visible text content.
	Text(ctx context.Context, selector string) (string, error)
	// PageText returns the rendered text content of the whole document.
	PageText(ctx context.Context) (string, error)
	// Attribute returns an attribute of the first element matching selector.
	// ok is false when the element or attribute is absent.
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)
	// Screenshot captures a full-page screenshot.
	Screenshot(ctx context.Context) ([]byte, error)
}

// ChromeBrowser implements Browser on top of a chromedp browser context.
// The chromedp context is passed into every call; the struct itself is
// stateless, so one value can serve multiple browsing contexts.
type ChromeBrowser struct{}

// NewChromeBrowser returns a chromedp-backed Browser.
func NewChromeBrowser() *ChromeBrowser {
	return &ChromeBrowser{}
}

func (c *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &NavigationTimeoutError{URL: url, Timeout: time.Since(start), Err: err}
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (c *ChromeBrowser) Location(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (c *ChromeBrowser) FirstMatch(ctx context.Context, selectors []string, visible bool) (string, error) {
	sels, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("failed to encode selectors: %w", err)
	}

	js := fmt.Sprintf(`
		(() => {
			const sels = %s;
			for (const sel of sels) {
				let el;
				try { el = document.querySelector(sel); } catch (e) { continue; }
				if (!el) continue;
				if (%t) {
					const r = el.getBoundingClientRect();
					if (r.width === 0 || r.height === 0) continue;
				}
				return sel;
			}
			return '';
		})()
	`, string(sels), visible)

	var match string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &match)); err != nil {
		return "", fmt.Errorf("selector probe failed: %w", err)
	}
	return match, nil
}

func (c *ChromeBrowser) Click(ctx context.Context, selector string) error {
	if err := chromedp.Run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (c *ChromeBrowser) SetValue(ctx context.Context, selector, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	encodedSel, err := json.Marshal(selector)
	if err != nil {
		return fmt.Errorf("failed to encode selector: %w", err)
	}

	// Assign the value directly and fire an input event. Select-all+type can
	// race with client-side formatting.
	js := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			el.value = %s;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		})()
	`, string(encodedSel), string(encoded))

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("failed to set value on %s: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("failed to set value: no element matches %s", selector)
	}
	return nil
}

func (c *ChromeBrowser) SendKeys(ctx context.Context, selector, text string) error {
	if err := chromedp.Run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to type into %s: %w", selector, err)
	}
	return nil
}

func (c *ChromeBrowser) Value(ctx context.Context, selector string) (string, error) {
	var value string
	if err := chromedp.Run(ctx, chromedp.Value(selector, &value, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read value of %s: %w", selector, err)
	}
	return value, nil
}

func (c *ChromeBrowser) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := chromedp.Run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", selector, err)
	}
	return text, nil
}

func (c *ChromeBrowser) PageText(ctx context.Context) (string, error) {
	var text string
	js := `document.body ? document.body.innerText : ''`
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &text)); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

func (c *ChromeBrowser) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	encodedSel, err := json.Marshal(selector)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode selector: %w", err)
	}
	encodedName, err := json.Marshal(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode attribute name: %w", err)
	}

	js := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%s);
			if (!el) return null;
			return el.getAttribute(%s);
		})()
	`, string(encodedSel), string(encodedName))

	var value *string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &value)); err != nil {
		return "", false, fmt.Errorf("failed to read attribute %s of %s: %w", name, selector, err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (c *ChromeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}
