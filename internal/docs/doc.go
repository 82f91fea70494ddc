package docs

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adrg/frontmatter"
	"github.com/river-now/lazyfield/kit/lazycell"
	"github.com/russross/blackfriday/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

/////////////////////////////////////////////////////////////////////
/////// FIELD VALUES
/////////////////////////////////////////////////////////////////////

// Builders cannot fail, so each fallible step stores its error next to its
// output and the accessors unwrap it.

type source struct {
	data    []byte
	modTime time.Time
	err     error
}

type Page struct {
	Title       string    `yaml:"title" toml:"title" json:"title"`
	Description string    `yaml:"description" toml:"description" json:"description,omitempty"`
	Tags        []string  `yaml:"tags" toml:"tags" json:"tags,omitempty"`
	Body        []byte    `yaml:"-" toml:"-" json:"-"`
	ModTime     time.Time `yaml:"-" toml:"-" json:"modTime"`
}

type pageResult struct {
	page Page
	err  error
}

type rendered struct {
	html []byte
	err  error
}

type Heading struct {
	Level int    `json:"level"`
	ID    string `json:"id,omitempty"`
	Text  string `json:"text"`
}

type Field string

const (
	FieldSource   Field = "source"
	FieldPage     Field = "page"
	FieldHTML     Field = "html"
	FieldHeadings Field = "headings"
	FieldETag     Field = "etag"
)

// Fields lists every lazy field of a Doc, dependencies first.
var Fields = []Field{FieldSource, FieldPage, FieldHTML, FieldHeadings, FieldETag}

/////////////////////////////////////////////////////////////////////
/////// DOC
/////////////////////////////////////////////////////////////////////

// Doc is one markdown document. Everything derived from the file is a lazy
// field built on first use and dropped by Invalidate.
type Doc struct {
	path string
	fsys fs.FS
	log  *slog.Logger

	source   *lazycell.Cell[*Doc, source]
	page     *lazycell.Cell[*Doc, pageResult]
	html     *lazycell.Cell[*Doc, rendered]
	headings *lazycell.Cell[*Doc, []Heading]
	etag     *lazycell.Cell[*Doc, string]

	builds atomic.Int64
}

func newDoc(fsys fs.FS, path string, log *slog.Logger) *Doc {
	d := &Doc{path: path, fsys: fsys, log: log}
	d.source = lazycell.NewEmpty((*Doc).buildSource)
	d.page = lazycell.NewEmpty((*Doc).buildPage)
	d.html = lazycell.NewEmpty((*Doc).buildHTML)
	d.headings = lazycell.NewEmpty((*Doc).buildHeadings)
	d.etag = lazycell.NewEmpty((*Doc).buildETag)
	return d
}

func (d *Doc) Path() string { return d.path }

// Builds counts builder runs across all fields since the doc was created.
func (d *Doc) Builds() int64 { return d.builds.Load() }

func (d *Doc) built(f Field) {
	d.builds.Add(1)
	d.log.Debug("built field", "path", d.path, "field", string(f))
}

func (d *Doc) buildSource() source {
	defer d.built(FieldSource)
	return d.readSource()
}

// readSource reads the file without counting as a build of the source field.
func (d *Doc) readSource() source {
	data, err := fs.ReadFile(d.fsys, d.path)
	if err != nil {
		return source{err: fmt.Errorf("error reading %s: %w", d.path, err)}
	}
	var modTime time.Time
	if info, err := fs.Stat(d.fsys, d.path); err == nil {
		modTime = info.ModTime()
	}
	return source{data: data, modTime: modTime}
}

func (d *Doc) buildPage() pageResult {
	defer d.built(FieldPage)
	src := d.source.Get(d)
	if src.err != nil {
		return pageResult{err: src.err}
	}
	var p Page
	body, err := frontmatter.Parse(bytes.NewReader(src.data), &p)
	if err != nil {
		return pageResult{err: fmt.Errorf("error parsing frontmatter of %s: %w", d.path, err)}
	}
	p.Body = body
	p.ModTime = src.modTime
	if p.Title == "" {
		p.Title = titleFromPath(d.path)
	}
	return pageResult{page: p}
}

func (d *Doc) buildHTML() rendered {
	defer d.built(FieldHTML)
	res := d.page.Get(d)
	if res.err != nil {
		return rendered{err: res.err}
	}
	out := blackfriday.Run(res.page.Body, blackfriday.WithExtensions(
		blackfriday.CommonExtensions|blackfriday.AutoHeadingIDs,
	))
	return rendered{html: out}
}

func (d *Doc) buildHeadings() []Heading {
	defer d.built(FieldHeadings)
	r := d.html.Get(d)
	if r.err != nil {
		return nil
	}
	return extractHeadings(r.html)
}

func (d *Doc) buildETag() string {
	defer d.built(FieldETag)
	r := d.html.Get(d)
	if r.err != nil {
		return ""
	}
	sum := blake2b.Sum256(r.html)
	return fmt.Sprintf(`"%x"`, sum[:12])
}

/////////////////////////////////////////////////////////////////////
/////// ACCESSORS
/////////////////////////////////////////////////////////////////////

func (d *Doc) Page() (Page, error) {
	r := d.page.Get(d)
	return r.page, r.err
}

// HTML returns the rendered document. The slice is shared; do not modify it.
func (d *Doc) HTML() ([]byte, error) {
	r := d.html.Get(d)
	return r.html, r.err
}

func (d *Doc) Headings() ([]Heading, error) {
	if _, err := d.HTML(); err != nil {
		return nil, err
	}
	return d.headings.Get(d), nil
}

func (d *Doc) ETag() (string, error) {
	if _, err := d.HTML(); err != nil {
		return "", err
	}
	return d.etag.Get(d), nil
}

// Preload builds every field. Errors are stored, not returned, so a broken
// document does not stop a bulk warm-up.
func (d *Doc) Preload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.etag.Get(d)
	d.headings.Get(d)
	return nil
}

/////////////////////////////////////////////////////////////////////
/////// SETTERS / CLEARERS / PREDICATES
/////////////////////////////////////////////////////////////////////

// Override replaces the rendered HTML, e.g. for a preview, and drops the
// fields derived from it. It returns the HTML that was replaced, if any.
func (d *Doc) Override(htmlBody []byte) []byte {
	h := d.html.Write()
	prev := h.Store(rendered{html: htmlBody})
	h.Release()
	d.headings.Clear()
	d.etag.Clear()
	return prev.OrZero().html
}

// Refresh re-reads the file now and reports whether its contents changed.
// Derived fields are dropped only on a change. A failed read is not kept:
// the next reader tries the file again. Refreshes are not counted in Builds.
func (d *Doc) Refresh() bool {
	next := d.readSource()

	h := d.source.Write()
	prev := h.Store(next)
	if next.err != nil {
		h.Clear()
	}
	h.Release()

	old, had := prev.Get()
	if had && old.err == nil && next.err == nil && bytes.Equal(old.data, next.data) {
		return false
	}
	d.log.Debug("refreshed", "path", d.path)
	d.page.Clear()
	d.html.Clear()
	d.headings.Clear()
	d.etag.Clear()
	return true
}

// Invalidate clears every field and reports whether any was set. Fields are
// cleared dependencies first, so a field rebuilt by a concurrent reader
// while this runs is rebuilt from already-cleared inputs.
func (d *Doc) Invalidate() bool {
	was := false
	was = d.source.Clear().IsSome() || was
	was = d.page.Clear().IsSome() || was
	was = d.html.Clear().IsSome() || was
	was = d.headings.Clear().IsSome() || was
	was = d.etag.Clear().IsSome() || was
	return was
}

// Clear resets a single field and reports whether it was set.
func (d *Doc) Clear(f Field) (bool, error) {
	switch f {
	case FieldSource:
		return d.source.Clear().IsSome(), nil
	case FieldPage:
		return d.page.Clear().IsSome(), nil
	case FieldHTML:
		return d.html.Clear().IsSome(), nil
	case FieldHeadings:
		return d.headings.Clear().IsSome(), nil
	case FieldETag:
		return d.etag.Clear().IsSome(), nil
	}
	return false, fmt.Errorf("unknown field %q", f)
}

type Status struct {
	Path   string         `json:"path"`
	Fields map[Field]bool `json:"fields"`
	Builds int64          `json:"builds"`
}

// Status reports which fields are currently built. It never blocks.
func (d *Doc) Status() Status {
	return Status{
		Path: d.path,
		Fields: map[Field]bool{
			FieldSource:   d.source.IsSet(),
			FieldPage:     d.page.IsSet(),
			FieldHTML:     d.html.IsSet(),
			FieldHeadings: d.headings.IsSet(),
			FieldETag:     d.etag.IsSet(),
		},
		Builds: d.builds.Load(),
	}
}

/////////////////////////////////////////////////////////////////////
/////// HELPERS
/////////////////////////////////////////////////////////////////////

func titleFromPath(p string) string {
	base := p[strings.LastIndex(p, "/")+1:]
	base = strings.TrimSuffix(base, ".md")
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	if base == "" {
		return p
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

func extractHeadings(src []byte) []Heading {
	var out []Heading
	var cur *Heading
	var text strings.Builder

	z := html.NewTokenizer(bytes.NewReader(src))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken:
			tok := z.Token()
			lvl := headingLevel(tok.DataAtom)
			if lvl == 0 || cur != nil {
				continue
			}
			cur = &Heading{Level: lvl}
			for _, a := range tok.Attr {
				if a.Key == "id" {
					cur.ID = a.Val
				}
			}
			text.Reset()
		case html.TextToken:
			if cur != nil {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			tok := z.Token()
			if cur != nil && headingLevel(tok.DataAtom) == cur.Level {
				cur.Text = strings.TrimSpace(text.String())
				out = append(out, *cur)
				cur = nil
			}
		}
	}
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}
