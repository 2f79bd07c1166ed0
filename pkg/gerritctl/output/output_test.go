package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goreview/gerritctl/pkg/gerritctl/client"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "json", want: FormatJSON},
		{input: "yaml", want: FormatYAML},
		{input: "", want: FormatTable},
		{input: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("input "+tt.input, func(t *testing.T) {
			format, err := ParseFormat(tt.input)
			if tt.wantErr {
				require.EqualError(t, err, "unknown output format: csv")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
		})
	}
}

func TestWriteObjectJSON(t *testing.T) {
	var buf bytes.Buffer
	obj := map[string]any{"subject": "Add retry budget", "number": 4242}

	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	assert.JSONEq(t, `{"subject": "Add retry budget", "number": 4242}`, buf.String())
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestWriteObjectYAML(t *testing.T) {
	var buf bytes.Buffer
	obj := map[string]string{"subject": "Add retry budget"}

	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	assert.Equal(t, "subject: Add retry budget\n", buf.String())
}

func TestWriteObjectRejectsTable(t *testing.T) {
	err := WriteObject(&bytes.Buffer{}, FormatTable, map[string]string{})
	require.EqualError(t, err, "table format requires a specific formatter")
}

func TestWriteObjectUnknownFormat(t *testing.T) {
	err := WriteObject(&bytes.Buffer{}, Format("csv"), map[string]string{})
	require.EqualError(t, err, "unknown output format: csv")
}

func TestWriteChangeTable(t *testing.T) {
	var buf bytes.Buffer
	updated := time.Date(2025, 6, 1, 12, 30, 0, 0, time.Local)
	changes := []client.Change{
		{
			Number:  4242,
			Project: "myproject",
			Branch:  "main",
			Status:  "NEW",
			Subject: "Add retry budget",
			Owner:   &client.AccountInfo{Email: "dev@example.org"},
			Updated: client.Timestamp{Time: updated},
		},
		{
			Project: "otherproject",
			Branch:  "main",
			Status:  "MERGED",
			Subject: "Fix cursor handling",
		},
	}

	WriteChangeTable(&buf, changes)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NUMBER")
	assert.Contains(t, lines[0], "SUBJECT")
	assert.Contains(t, lines[1], "4242")
	assert.Contains(t, lines[1], "dev@example.org")
	assert.Contains(t, lines[1], "2025-06-01 12:30")
	assert.Contains(t, lines[1], "Add retry budget")
	// Missing number, owner, and update time render as placeholders.
	assert.Contains(t, lines[2], "-")
	assert.Contains(t, lines[2], "Fix cursor handling")
}

func TestWriteChangeTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	WriteChangeTable(&buf, nil)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "NUMBER")
}

func TestWriteAccountTable(t *testing.T) {
	var buf bytes.Buffer
	accounts := []client.AccountInfo{
		{AccountID: 7, Name: "Dev One", Email: "one@example.org", Username: "dev1"},
		{Name: "Ghost"},
	}

	WriteAccountTable(&buf, accounts)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "EMAIL")
	assert.Contains(t, lines[1], "one@example.org")
	assert.Contains(t, lines[1], "7")
	assert.Contains(t, lines[2], "Ghost")
	assert.True(t, strings.HasPrefix(lines[2], "-"))
}
