package syncer

import (
	"fmt"
	"strings"
)

// DefaultMaxListedPaths caps the per-path listing in commit message bodies.
const DefaultMaxListedPaths = 20

const noChangesSubject = "Sync: no changes"

type CommitMessage struct {
	Subject string
	Body    string
}

func (m CommitMessage) String() string {
	if m.Body == "" {
		return m.Subject
	}
	return m.Subject + "\n\n" + m.Body
}

type CommitMessageGenerator struct {
	maxListed int
}

// NewCommitMessageGenerator returns a generator listing at most maxListed paths
// in the body. Zero disables the listing; negative values use the default.
func NewCommitMessageGenerator(maxListed int) *CommitMessageGenerator {
	if maxListed < 0 {
		maxListed = DefaultMaxListedPaths
	}
	return &CommitMessageGenerator{maxListed: maxListed}
}

func (g *CommitMessageGenerator) Generate(cs *ChangeSet) CommitMessage {
	if cs == nil || cs.IsEmpty() {
		return CommitMessage{Subject: noChangesSubject}
	}

	subject := fmt.Sprintf("Sync: +%d added, ~%d modified, -%d deleted",
		len(cs.Added), len(cs.Modified), cs.Deleted.Cardinality())

	if g.maxListed == 0 {
		return CommitMessage{Subject: subject}
	}

	changes := cs.Changes()
	var body strings.Builder
	for i, change := range changes {
		if i == g.maxListed {
			fmt.Fprintf(&body, "... +%d more\n", len(changes)-i)
			break
		}
		body.WriteString(changeMarker(change.Kind))
		body.WriteString(" ")
		body.WriteString(change.Path)
		body.WriteString("\n")
	}

	return CommitMessage{
		Subject: subject,
		Body:    strings.TrimRight(body.String(), "\n"),
	}
}

func changeMarker(kind ChangeKind) string {
	switch kind {
	case ChangeAdded:
		return "+"
	case ChangeModified:
		return "~"
	default:
		return "-"
	}
}
