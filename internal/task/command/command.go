// Package command maps a task's target file and arguments to the argv of the
// process that runs it.
package command

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"jobvisor/internal/task"
)

// Options carries the host settings the builder depends on.
type Options struct {
	// PDIHome is the ETL tool home holding the Pan/Kitchen launchers.
	PDIHome string
	// Python overrides the interpreter used for .py targets.
	Python string
	// GOOS selects launcher conventions; defaults to runtime.GOOS.
	GOOS string
}

func (o Options) goos() string {
	if o.GOOS != "" {
		return o.GOOS
	}
	return runtime.GOOS
}

// Build returns the argument vector for t.
//
// Unknown extensions are treated as directly executable. Resolution problems
// surface later as a process start error, never here.
func Build(t task.Task, opt Options) []string {
	path := t.Path
	args := SplitArgs(t.Args, opt.goos())
	windows := opt.goos() == "windows"

	var head []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bat", ".cmd":
		head = []string{shell(), "/c", path}
	case ".ps1":
		head = []string{"powershell", "-ExecutionPolicy", "Bypass", "-File", path}
	case ".py":
		head = []string{python(opt.Python, windows), path}
	case ".ktr":
		head = []string{pdiLauncher(opt.PDIHome, "Pan", windows), "/file:" + path}
	case ".kjb":
		head = []string{pdiLauncher(opt.PDIHome, "Kitchen", windows), "/file:" + path}
	case ".sh":
		if windows {
			head = []string{path}
		} else {
			head = []string{"sh", path}
		}
	default:
		head = []string{path}
	}
	return append(head, args...)
}

// SplitArgs tokenizes a raw argument string.
//
// POSIX hosts use shell quoting rules. On Windows quotes are kept inside the
// tokens so the target program receives them the way a console would pass them.
// A string that cannot be tokenized falls back to whitespace splitting.
func SplitArgs(raw, goos string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if goos == "windows" {
		return splitKeepQuotes(raw)
	}
	out, err := shellquote.Split(raw)
	if err != nil {
		return strings.Fields(raw)
	}
	return out
}

// splitKeepQuotes splits on whitespace outside double or single quotes and
// leaves the quote characters in place.
func splitKeepQuotes(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		inTok bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			inTok = true
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inTok {
				out = append(out, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			inTok = true
			cur.WriteRune(r)
		}
	}
	if inTok {
		out = append(out, cur.String())
	}
	return out
}

func shell() string {
	if c := strings.TrimSpace(os.Getenv("ComSpec")); c != "" {
		return c
	}
	return "cmd"
}

func python(override string, windows bool) string {
	if p := strings.TrimSpace(override); p != "" {
		return p
	}
	if windows {
		return "python"
	}
	return "python3"
}

func pdiLauncher(home, name string, windows bool) string {
	if windows {
		return filepath.Join(home, name+".bat")
	}
	return filepath.Join(home, strings.ToLower(name)+".sh")
}
