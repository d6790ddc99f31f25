package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
)

// Row is one attempt flattened for tabular export.
type Row struct {
	SessionID     string
	LearnerName   string
	ProjectName   string
	InteractionID string
	Attempts      int
	Skipped       bool
	Correct       bool
	TimeSpent     time.Duration
}

func rowsFor(sess *domain.Session) []Row {
	rows := make([]Row, 0, len(sess.Attempts))
	for _, a := range sess.Attempts {
		rows = append(rows, Row{
			SessionID:     sess.ID,
			LearnerName:   sess.LearnerName,
			ProjectName:   sess.ProjectName,
			InteractionID: a.InteractionID,
			Attempts:      a.Attempts,
			Skipped:       a.Skipped,
			Correct:       a.Correct,
			TimeSpent:     a.TimeSpent,
		})
	}
	return rows
}

// ExportSession returns the rows of one session in discovery order.
func (l *Ledger) ExportSession(ctx context.Context, sessionID string) ([]Row, error) {
	sess, err := l.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rowsFor(sess), nil
}

// ExportAll returns the rows of every session, sessions oldest first.
func (l *Ledger) ExportAll(ctx context.Context) ([]Row, error) {
	sessions, err := l.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, sess := range sessions {
		rows = append(rows, rowsFor(sess)...)
	}
	return rows, nil
}

var (
	sessionHeader = []string{"sessionId", "studentName", "projectName"}
	attemptHeader = []string{"interactionId", "attempts", "skipped", "correct", "timeSpent"}
)

// WriteCSV writes rows with a header line. withSession adds the leading
// sessionId, studentName and projectName columns used by the all-sessions
// export. String fields are always quoted with embedded quotes doubled;
// timeSpent is integer milliseconds.
func WriteCSV(w io.Writer, rows []Row, withSession bool) error {
	bw := bufio.NewWriter(w)

	header := attemptHeader
	if withSession {
		header = append(append([]string{}, sessionHeader...), attemptHeader...)
	}
	if _, err := bw.WriteString(strings.Join(header, ",") + "\n"); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	fields := make([]string, 0, len(header))
	for _, r := range rows {
		fields = fields[:0]
		if withSession {
			fields = append(fields, quote(r.SessionID), quote(r.LearnerName), quote(r.ProjectName))
		}
		fields = append(fields,
			quote(r.InteractionID),
			strconv.Itoa(r.Attempts),
			strconv.FormatBool(r.Skipped),
			strconv.FormatBool(r.Correct),
			strconv.FormatInt(r.TimeSpent.Milliseconds(), 10),
		)
		if _, err := bw.WriteString(strings.Join(fields, ",") + "\n"); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return bw.Flush()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteSessionJSON writes one session document.
func WriteSessionJSON(w io.Writer, sess *domain.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

// WriteSessionsJSON writes every session as a JSON array.
func WriteSessionsJSON(w io.Writer, sessions []*domain.Session) error {
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sessions)
}
