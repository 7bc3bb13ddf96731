package harness

import (
	"context"
	"sync"
	"time"
)

// fakeElem is one element the fake browser can resolve.
type fakeElem struct {
	visible bool
	value   string
	text    string
	attrs   map[string]string
	// appearsAt delays presence, for bounded-wait tests.
	appearsAt time.Time
}

// fakeBrowser implements Browser over an in-memory element map.
type fakeBrowser struct {
	mu      sync.Mutex
	url     string
	text    string
	elems   map[string]*fakeElem
	clicked []string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{elems: make(map[string]*fakeElem)}
}

func (f *fakeBrowser) addElem(selector string, e *fakeElem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elems[selector] = e
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakeBrowser) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeBrowser) FirstMatch(ctx context.Context, selectors []string, visible bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sel := range selectors {
		e, ok := f.elems[sel]
		if !ok {
			continue
		}
		if !e.appearsAt.IsZero() && time.Now().Before(e.appearsAt) {
			continue
		}
		if visible && !e.visible {
			continue
		}
		return sel, nil
	}
	return "", nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, selector)
	return nil
}

func (f *fakeBrowser) SetValue(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.elems[selector]; ok {
		e.value = value
	}
	return nil
}

func (f *fakeBrowser) SendKeys(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.elems[selector]; ok {
		e.value += text
	}
	return nil
}

func (f *fakeBrowser) Value(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.elems[selector]; ok {
		return e.value, nil
	}
	return "", nil
}

func (f *fakeBrowser) Text(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.elems[selector]; ok {
		return e.text, nil
	}
	return "", nil
}

func (f *fakeBrowser) PageText(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

func (f *fakeBrowser) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.elems[selector]; ok {
		if v, ok := e.attrs[name]; ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}
