package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	_ Session = (*SnapshotSession)(nil)
	_ Session = (*PlaywrightSession)(nil)
)

// SnapshotSession replays saved HTML documents as if they were live pages.
// The first document is what Navigate lands on; every click advances to the
// next document, the way a submit or "next page" click loads a new page.
// Waits never block: a selector either matches the current document or the
// wait times out immediately.
type SnapshotSession struct {
	pages   []*goquery.Document
	current int
	loaded  bool
	closed  bool
	clicks  int
	visited []string
}

// NewSnapshotSession parses each page as a separate document.
func NewSnapshotSession(pages ...string) (*SnapshotSession, error) {
	s := &SnapshotSession{}
	for i, html := range pages {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot %d: %w", i, err)
		}
		s.pages = append(s.pages, doc)
	}
	return s, nil
}

// LoadSnapshotDir reads every *.html file in dir in lexical order.
func LoadSnapshotDir(dir string) (*SnapshotSession, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .html snapshots in %s", dir)
	}
	sort.Strings(files)

	pages := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}
		pages = append(pages, string(data))
	}

	return NewSnapshotSession(pages...)
}

// SnapshotOpener hands out one session per run.
func SnapshotOpener(dir string) Opener {
	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return LoadSnapshotDir(dir)
	}
}

func (s *SnapshotSession) Navigate(ctx context.Context, url string) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.pages) == 0 {
		return fmt.Errorf("failed to navigate to %s: no snapshots loaded", url)
	}

	s.current = 0
	s.loaded = true
	s.visited = append(s.visited, url)
	return nil
}

func (s *SnapshotSession) WaitFor(ctx context.Context, selector string, cond Condition, timeout time.Duration) (Element, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	el, err := s.Find(selector)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s to be %s: %w", selector, cond, ErrTimeout)
	}

	if cond == Clickable {
		if _, disabled := el.(*snapshotElement).sel.Attr("disabled"); disabled {
			return nil, fmt.Errorf("%s is not enabled: %w", selector, ErrTimeout)
		}
	}

	return el, nil
}

func (s *SnapshotSession) Find(selector string) (Element, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if !s.loaded {
		return nil, ErrNotFound
	}
	return s.wrap(s.pages[s.current].Find(selector))
}

func (s *SnapshotSession) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SnapshotSession) Closed() bool { return s.closed }

// Clicks counts every Click performed through the session.
func (s *SnapshotSession) Clicks() int { return s.clicks }

// Current is the index of the document being displayed.
func (s *SnapshotSession) Current() int { return s.current }

// Visited lists the URLs passed to Navigate.
func (s *SnapshotSession) Visited() []string { return s.visited }

func (s *SnapshotSession) wrap(sel *goquery.Selection) (Element, error) {
	if sel.Length() == 0 {
		return nil, ErrNotFound
	}
	return &snapshotElement{session: s, sel: sel.First()}, nil
}

func (s *SnapshotSession) click() error {
	if s.closed {
		return ErrClosed
	}
	s.clicks++
	if s.current < len(s.pages)-1 {
		s.current++
	}
	return nil
}

type snapshotElement struct {
	session *SnapshotSession
	sel     *goquery.Selection
}

func (e *snapshotElement) Find(selector string) (Element, error) {
	return e.session.wrap(e.sel.Find(selector))
}

func (e *snapshotElement) FindAll(selector string) ([]Element, error) {
	matches := e.sel.Find(selector)
	elements := make([]Element, 0, matches.Length())
	matches.Each(func(_ int, sel *goquery.Selection) {
		elements = append(elements, &snapshotElement{session: e.session, sel: sel})
	})
	return elements, nil
}

func (e *snapshotElement) Ancestor(tag string) (Element, error) {
	return e.session.wrap(e.sel.ParentsFiltered(tag))
}

func (e *snapshotElement) Text() (string, error) {
	return e.sel.Text(), nil
}

func (e *snapshotElement) InnerHTML() (string, error) {
	return e.sel.Html()
}

func (e *snapshotElement) Attribute(name string) (string, error) {
	return e.sel.AttrOr(name, ""), nil
}

func (e *snapshotElement) Click() error {
	return e.session.click()
}

func (e *snapshotElement) Fill(value string) error {
	if e.session.closed {
		return ErrClosed
	}
	e.sel.SetAttr("value", value)
	return nil
}
