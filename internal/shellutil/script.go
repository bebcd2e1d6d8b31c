package shellutil

import "strings"

// Script assembles a multi-line remote shell script. Lines added with Run
// are quoted argv; Raw lines are trusted fragments that must not embed
// unquoted caller input.
type Script struct {
	lines []string
}

// Run appends one command line with every word quoted.
func (s *Script) Run(argv ...string) *Script {
	s.lines = append(s.lines, Command(argv...))
	return s
}

// Raw appends a pre-built fragment verbatim.
func (s *Script) Raw(line string) *Script {
	s.lines = append(s.lines, line)
	return s
}

// Export appends an environment variable assignment with a quoted value.
func (s *Script) Export(name, value string) *Script {
	s.lines = append(s.lines, "export "+name+"="+Quote(value))
	return s
}

// String renders the script as newline-joined lines. Callers execute it
// with `bash -ceu`, so the first failing line aborts the script.
func (s *Script) String() string {
	return strings.Join(s.lines, "\n")
}
