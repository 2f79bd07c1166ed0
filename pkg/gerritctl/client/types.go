package client

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp decodes the review service's timestamp format
// ("2006-01-02 15:04:05.000000000").
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05.000000000", "2006-01-02 15:04:05"} {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp: %q", s)
}

type Change struct {
	ID              string                  `json:"id"`
	Project         string                  `json:"project"`
	Branch          string                  `json:"branch"`
	ChangeID        string                  `json:"change_id"`
	Subject         string                  `json:"subject"`
	Status          string                  `json:"status"`
	Created         Timestamp               `json:"created"`
	Updated         Timestamp               `json:"updated"`
	Number          int                     `json:"_number"`
	Owner           *AccountInfo            `json:"owner,omitempty"`
	CurrentRevision string                  `json:"current_revision,omitempty"`
	Revisions       map[string]RevisionInfo `json:"revisions,omitempty"`
	Labels          map[string]LabelInfo    `json:"labels,omitempty"`
	Messages        []ChangeMessage         `json:"messages,omitempty"`

	// MoreChanges marks the item carrying the resume cursor of a
	// truncated query page.
	MoreChanges bool   `json:"_more_changes,omitempty"`
	SortKey     string `json:"_sortkey,omitempty"`
}

type AccountInfo struct {
	AccountID int    `json:"_account_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Display returns the most human-friendly identity available.
func (a AccountInfo) Display() string {
	switch {
	case a.Email != "":
		return a.Email
	case a.Name != "":
		return a.Name
	case a.Username != "":
		return a.Username
	default:
		return fmt.Sprintf("account %d", a.AccountID)
	}
}

type RevisionInfo struct {
	Number int         `json:"_number,omitempty"`
	Ref    string      `json:"ref,omitempty"`
	Commit *CommitInfo `json:"commit,omitempty"`
}

type CommitInfo struct {
	Commit    string        `json:"commit,omitempty"`
	Parents   []CommitInfo  `json:"parents,omitempty"`
	Author    GitPersonInfo `json:"author,omitempty"`
	Committer GitPersonInfo `json:"committer,omitempty"`
	Subject   string        `json:"subject,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type GitPersonInfo struct {
	Name  string    `json:"name,omitempty"`
	Email string    `json:"email,omitempty"`
	Date  Timestamp `json:"date,omitempty"`
}

type LabelInfo struct {
	Approved *AccountInfo `json:"approved,omitempty"`
	Rejected *AccountInfo `json:"rejected,omitempty"`
	Optional bool         `json:"optional,omitempty"`
}

type ChangeMessage struct {
	ID      string       `json:"id,omitempty"`
	Author  *AccountInfo `json:"author,omitempty"`
	Date    Timestamp    `json:"date,omitempty"`
	Message string       `json:"message,omitempty"`
}

type EditInfo struct {
	Commit       *CommitInfo `json:"commit,omitempty"`
	BaseRevision string      `json:"base_revision,omitempty"`
}

// ReviewInput posts a review message and label votes.
type ReviewInput struct {
	Message string         `json:"message,omitempty"`
	Labels  map[string]int `json:"labels,omitempty"`
	Notify  string         `json:"notify,omitempty"`
}

type ReviewResult struct {
	Labels map[string]int `json:"labels,omitempty"`
}

type actionInput struct {
	Message string `json:"message,omitempty"`
}

type submitInput struct {
	WaitForMerge bool `json:"wait_for_merge"`
}

type reviewerInput struct {
	Reviewer string `json:"reviewer"`
}

type editMessageInput struct {
	Message string `json:"message"`
	Notify  string `json:"notify,omitempty"`
}

type publishEditInput struct {
	Notify string `json:"notify,omitempty"`
}
