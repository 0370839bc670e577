package syncer

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the local root when present.
const IgnoreFileName = ".filesyncignore"

// IgnoreList matches logical paths against gitignore-style rules. A nil
// IgnoreList ignores nothing.
type IgnoreList struct {
	rules  int
	ignore *gitignore.GitIgnore
}

func NewIgnoreList(lines ...string) *IgnoreList {
	var rules []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	return &IgnoreList{
		rules:  len(rules),
		ignore: gitignore.CompileIgnoreLines(rules...),
	}
}

// LoadIgnoreList combines extra rules with the rules of baseDir's ignore file.
// A missing or unreadable ignore file is not an error.
func LoadIgnoreList(baseDir string, extra ...string) *IgnoreList {
	lines := append([]string{}, extra...)

	ignorePath := filepath.Join(baseDir, IgnoreFileName)
	file, err := os.Open(ignorePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		}
		return NewIgnoreList(lines...)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
	}

	list := NewIgnoreList(lines...)
	slog.Debug("loaded ignore file", "path", ignorePath, "rules", list.rules)
	return list
}

func (l *IgnoreList) ShouldIgnore(path string) bool {
	if l == nil || l.rules == 0 {
		return false
	}
	return l.ignore.MatchesPath(path)
}

func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return l.rules
}
