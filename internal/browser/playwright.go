package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightSession drives one page of a dedicated playwright browser.
type PlaywrightSession struct {
	browser *Browser
	page    playwright.Page
	timeout time.Duration
	logger  *slog.Logger
	closed  bool
}

func (s *PlaywrightSession) Navigate(ctx context.Context, url string) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, translate(err))
	}

	return nil
}

func (s *PlaywrightSession) WaitFor(ctx context.Context, selector string, cond Condition, timeout time.Duration) (Element, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	state := playwright.WaitForSelectorStateVisible
	if cond == Present {
		state = playwright.WaitForSelectorStateAttached
	}

	loc := s.page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for %s to be %s: %w", selector, cond, translate(err))
	}

	if cond == Clickable {
		enabled, err := loc.IsEnabled()
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", selector, translate(err))
		}
		if !enabled {
			return nil, fmt.Errorf("%s is not enabled: %w", selector, ErrTimeout)
		}
	}

	return &locatorElement{loc: loc}, nil
}

func (s *PlaywrightSession) Find(selector string) (Element, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return first(s.page.Locator(selector))
}

func (s *PlaywrightSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close page: %w", err))
	}
	if err := s.browser.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

type locatorElement struct {
	loc playwright.Locator
}

func (e *locatorElement) Find(selector string) (Element, error) {
	return first(e.loc.Locator(selector))
}

func (e *locatorElement) FindAll(selector string) ([]Element, error) {
	locs, err := e.loc.Locator(selector).All()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", selector, translate(err))
	}

	elements := make([]Element, 0, len(locs))
	for _, l := range locs {
		elements = append(elements, &locatorElement{loc: l})
	}
	return elements, nil
}

func (e *locatorElement) Ancestor(tag string) (Element, error) {
	return first(e.loc.Locator("xpath=ancestor::" + tag + "[1]"))
}

func (e *locatorElement) Text() (string, error) {
	text, err := e.loc.TextContent()
	return text, translate(err)
}

func (e *locatorElement) InnerHTML() (string, error) {
	html, err := e.loc.InnerHTML()
	return html, translate(err)
}

func (e *locatorElement) Attribute(name string) (string, error) {
	value, err := e.loc.GetAttribute(name)
	return value, translate(err)
}

func (e *locatorElement) Click() error {
	return translate(e.loc.Click())
}

func (e *locatorElement) Fill(value string) error {
	return translate(e.loc.Fill(value))
}

func first(loc playwright.Locator) (Element, error) {
	loc = loc.First()
	count, err := loc.Count()
	if err != nil {
		return nil, translate(err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return &locatorElement{loc: loc}, nil
}

// translate maps playwright timeouts onto ErrTimeout and keeps the original detail.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
