package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/river-now/lazyfield/internal/docs"
	"github.com/river-now/lazyfield/kit/lazycache"
)

const shellHelp = `commands:
  ls                      list documents and which fields are built
  get PATH [FIELD]        print a field (page, html, headings, etag), building it if needed
  status PATH             show which fields of PATH are built
  clear PATH [FIELD]      drop one field, or the whole document
  store PATH HTML         replace the rendered HTML of PATH
  index                   build the index (up to 5s) and print its size
  warm                    build every document and the index
  rescan                  re-read the document list
  reload                  re-read the environment on next use
  help                    show this help
  quit                    leave the shell
`

var shellCommands = []string{"ls", "get", "status", "clear", "store", "index", "warm", "rescan", "reload", "help", "quit", "exit"}

var errQuit = errors.New("quit")

type shell struct {
	store *docs.Store
	out   io.Writer
}

func runShell(ctx context.Context, store *docs.Store) error {
	sh := &shell{store: store, out: os.Stdout}

	cli := liner.NewLiner()
	defer cli.Close()
	cli.SetCtrlCAborts(true)
	cli.SetWordCompleter(sh.complete)

	fmt.Fprintf(sh.out, "%d documents. Type help for commands.\n", store.Len())
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := cli.Prompt("lazydocs> ")
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(sh.out)
			return nil
		default:
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cli.AppendHistory(line)

		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}

func (sh *shell) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		fmt.Fprint(sh.out, shellHelp)
	case "quit", "exit":
		return errQuit
	case "ls":
		for _, d := range sh.store.Docs() {
			fmt.Fprintf(sh.out, "%s  %s\n", fieldMarks(d.Status()), d.Path())
		}
	case "get":
		return sh.get(args)
	case "status":
		d, err := sh.doc(args, 1)
		if err != nil {
			return err
		}
		st := d.Status()
		for _, f := range docs.Fields {
			fmt.Fprintf(sh.out, "%-9s %v\n", f, st.Fields[f])
		}
		fmt.Fprintf(sh.out, "builds    %d\n", st.Builds)
	case "clear":
		return sh.clear(ctx, args)
	case "store":
		if len(args) < 2 {
			return errors.New("usage: store PATH HTML")
		}
		d, err := sh.doc(args[:1], 1)
		if err != nil {
			return err
		}
		d.Override([]byte(strings.Join(args[1:], " ")))
		if _, err := sh.store.Index().Invalidate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "ok")
	case "index":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		start := time.Now()
		entries, err := sh.store.Index().Entries(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d entries (%s)\n", len(entries), time.Since(start).Round(time.Millisecond))
	case "warm":
		if err := sh.store.Warm(ctx); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "warmed %d documents\n", sh.store.Len())
	case "rescan":
		if err := sh.store.Scan(ctx); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d documents\n", sh.store.Len())
	case "reload":
		lazycache.Reset(&settings)
		if _, err := getConfig(); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "environment reloaded; restart to apply root and glob changes")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (sh *shell) doc(args []string, want int) (*docs.Doc, error) {
	if len(args) < want {
		return nil, errors.New("missing PATH")
	}
	d, ok := sh.store.Doc(args[0])
	if !ok {
		return nil, fmt.Errorf("no document %q", args[0])
	}
	return d, nil
}

func (sh *shell) get(args []string) error {
	d, err := sh.doc(args, 1)
	if err != nil {
		return err
	}
	field := docs.FieldPage
	if len(args) > 1 {
		field = docs.Field(args[1])
	}

	switch field {
	case docs.FieldPage, docs.FieldSource:
		p, err := d.Page()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "title: %s\n", p.Title)
		if p.Description != "" {
			fmt.Fprintf(sh.out, "description: %s\n", p.Description)
		}
		if len(p.Tags) > 0 {
			fmt.Fprintf(sh.out, "tags: %s\n", strings.Join(p.Tags, ", "))
		}
	case docs.FieldHTML:
		html, err := d.HTML()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s\n", strings.TrimSpace(string(html)))
	case docs.FieldHeadings:
		hs, err := d.Headings()
		if err != nil {
			return err
		}
		for _, h := range hs {
			fmt.Fprintf(sh.out, "%s%s #%s\n", strings.Repeat("  ", h.Level-1), h.Text, h.ID)
		}
	case docs.FieldETag:
		etag, err := d.ETag()
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, etag)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func (sh *shell) clear(ctx context.Context, args []string) error {
	d, err := sh.doc(args, 1)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if _, err := sh.store.Invalidate(ctx, d.Path()); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "cleared")
		return nil
	}
	was, err := d.Clear(docs.Field(args[1]))
	if err != nil {
		return err
	}
	if was {
		fmt.Fprintln(sh.out, "cleared")
	} else {
		fmt.Fprintln(sh.out, "was not built")
	}
	return nil
}

// fieldMarks renders built fields as letters and unbuilt ones as dots, in
// dependency order, e.g. "sph.." for source, page and html.
func fieldMarks(st docs.Status) string {
	var b strings.Builder
	for _, f := range docs.Fields {
		if st.Fields[f] {
			b.WriteByte(string(f)[0])
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func (sh *shell) complete(line string, pos int) (head string, completions []string, tail string) {
	head, tail = line[:pos], line[pos:]
	fields := strings.Fields(head)
	if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(head, " ")) {
		prefix := ""
		if len(fields) == 1 {
			prefix = fields[0]
		}
		for _, c := range shellCommands {
			if strings.HasPrefix(c, prefix) {
				completions = append(completions, c)
			}
		}
		return head[:len(head)-len(prefix)], completions, tail
	}

	// Second word: a document path.
	if len(fields) == 2 && !strings.HasSuffix(head, " ") || len(fields) == 1 {
		prefix := ""
		if len(fields) == 2 {
			prefix = fields[1]
		}
		for _, d := range sh.store.Docs() {
			if strings.HasPrefix(d.Path(), prefix) {
				completions = append(completions, d.Path())
			}
		}
		slices.Sort(completions)
		return head[:len(head)-len(prefix)], completions, tail
	}
	return head, nil, tail
}
