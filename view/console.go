package view

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/moyoez/csvjobs-dashboard/tool"
)

// Actions is what the console can ask the rest of the program to do.
type Actions interface {
	Refresh(ctx context.Context) error
	Upload(ctx context.Context, path string) (jobID string, err error)
	// DownloadReport saves the job's error report and returns where it was written.
	DownloadReport(ctx context.Context, jobID string) (path string, err error)
	// Redraw re-renders the jobs table.
	Redraw()
}

const consoleHelp = `Commands:
  r            refresh the job list
  e <jobId>    show or hide job details
  u <path>     upload a CSV file
  d <jobId>    download the error report of a job
  h            show this help
  q            quit
`

// Console reads line commands and dispatches them to Actions.
type Console struct {
	in      io.Reader
	out     io.Writer
	actions Actions
	exp     *Expansion
}

func NewConsole(in io.Reader, out io.Writer, actions Actions, exp *Expansion) *Console {
	if exp == nil {
		exp = NewExpansion()
	}
	return &Console{in: in, out: out, actions: actions, exp: exp}
}

// Run processes commands until q, end of input, or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec runs one command line and reports whether the console should stop.
func (c *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch cmd {
	case "q", "quit", "exit":
		return true
	case "h", "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	case "r", "refresh":
		if err := c.actions.Refresh(ctx); err != nil {
			c.printError(err)
			return false
		}
		c.actions.Redraw()
	case "e", "expand":
		if arg == "" {
			fmt.Fprintln(c.out, "Usage: e <jobId>")
			return false
		}
		c.exp.Toggle(arg)
		c.actions.Redraw()
	case "u", "upload":
		if arg == "" {
			fmt.Fprintln(c.out, "Usage: u <path>")
			return false
		}
		jobID, err := c.actions.Upload(ctx, arg)
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = "Upload failed"
			}
			fmt.Fprintln(c.out, errorStyle.Render(msg))
			return false
		}
		fmt.Fprintf(c.out, "Uploaded! Job ID: %s\n", jobID)
		if err := c.actions.Refresh(ctx); err != nil {
			tool.DefaultLogger.Warnf("Refresh after upload failed: %v", err)
		}
		c.actions.Redraw()
	case "d", "download":
		if arg == "" {
			fmt.Fprintln(c.out, "Usage: d <jobId>")
			return false
		}
		path, err := c.actions.DownloadReport(ctx, arg)
		if err != nil {
			c.printError(err)
			return false
		}
		fmt.Fprintf(c.out, "Saved error report to %s\n", path)
	default:
		fmt.Fprintf(c.out, "Unknown command %q, type h for help\n", cmd)
	}
	return false
}

func (c *Console) printError(err error) {
	fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
}
