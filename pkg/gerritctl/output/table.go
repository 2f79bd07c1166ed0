package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goreview/gerritctl/pkg/gerritctl/client"
)

func writeTable(w io.Writer, header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func WriteChangeTable(w io.Writer, changes []client.Change) {
	rows := make([][]string, 0, len(changes))
	for _, c := range changes {
		number := "-"
		if c.Number > 0 {
			number = strconv.Itoa(c.Number)
		}
		owner := "-"
		if c.Owner != nil {
			owner = c.Owner.Display()
		}
		rows = append(rows, []string{number, c.Project, c.Branch, c.Status, owner, formatTime(c.Updated.Time), c.Subject})
	}
	writeTable(w, []string{"NUMBER", "PROJECT", "BRANCH", "STATUS", "OWNER", "UPDATED", "SUBJECT"}, rows)
}

func WriteAccountTable(w io.Writer, accounts []client.AccountInfo) {
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		id := "-"
		if a.AccountID > 0 {
			id = strconv.Itoa(a.AccountID)
		}
		rows = append(rows, []string{id, a.Name, a.Email, a.Username})
	}
	writeTable(w, []string{"ID", "NAME", "EMAIL", "USERNAME"}, rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
