package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"inkbridge/internal/editor"
	"inkbridge/internal/session"
)

const replHelp = `commands:
  type <markup>      append markup at the caret
  insert <path>      insert an image or video file
  delete <id>        delete an attachment's element
  select [formats]   move the caret onto the given formatting
  list               show tracked attachments
  show               print the current content
  finish             finish editing and return content to the host
  cancel             dismiss the editor
  discard            clear the document and keep editing
  help               show this text`

// repl drives the headless surface the way a user would drive a widget.
type repl struct {
	sess    *session.Session
	surface *editor.Memory
	out     io.Writer
}

func newREPL(sess *session.Session, surface *editor.Memory, out io.Writer) *repl {
	return &repl{sess: sess, surface: surface, out: out}
}

// readLines feeds lines from r until EOF. The reader goroutine is not tied
// to any context because a blocked stdin read cannot be interrupted.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 4<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func (r *repl) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := r.exec(ctx, line); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
	}
}

func (r *repl) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "type":
		r.surface.Type(arg)
		return nil

	case "insert":
		if arg == "" {
			return errors.New("insert needs a file path")
		}
		a, err := r.sess.InsertMedia(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s %s %s\n", a.ID, a.Kind, a.State)
		return nil

	case "delete":
		if arg == "" {
			return errors.New("delete needs an attachment id")
		}
		return r.surface.DeleteByUser(editor.ByID(arg))

	case "select":
		r.surface.Select(strings.Fields(arg)...)
		return nil

	case "list":
		tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSTATE\tSOURCE")
		for _, a := range r.sess.Registry().List() {
			src := a.SourceRef
			if src == "" {
				src = a.LocalRef
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Kind, a.State, src)
		}
		return tw.Flush()

	case "show":
		content, err := r.sess.Content(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, content)
		return nil

	case "finish":
		content, err := r.sess.Finish(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, content)
		return nil

	case "cancel":
		return r.sess.Cancel(ctx)

	case "discard":
		return r.sess.Discard(ctx)

	case "help", "?":
		fmt.Fprintln(r.out, replHelp)
		return nil

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}
