package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ChangeService exposes change-level operations.
type ChangeService struct {
	client *Client
}

func (c *Client) Changes() *ChangeService {
	return &ChangeService{client: c}
}

// QueryOptions narrows a change query.
type QueryOptions struct {
	// Limit caps the number of results per page.
	Limit int
	// Cursor resumes a truncated query after the item that carried it.
	Cursor string
	// Fields lists additional response fields (o parameters).
	Fields []string
}

func (o QueryOptions) values(query string) url.Values {
	params := url.Values{}
	params.Set("q", query)
	if o.Limit > 0 {
		params.Set("n", strconv.Itoa(o.Limit))
	}
	if o.Cursor != "" {
		params.Set("N", o.Cursor)
	}
	for _, field := range o.Fields {
		params.Add("o", field)
	}
	return params
}

// Query returns a single page of changes matching the query.
func (s *ChangeService) Query(ctx context.Context, query string, opts QueryOptions) ([]Change, error) {
	req, err := s.client.NewRequest(ctx, http.MethodGet, "/changes/", opts.values(query), nil, nil)
	if err != nil {
		return nil, err
	}
	var changes []Change
	if err := s.client.DoJSON(req, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// MultiQuery runs several queries in one round trip and returns one
// result page per query, in order.
func (s *ChangeService) MultiQuery(ctx context.Context, queries []string, opts QueryOptions) ([][]Change, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	params := opts.values(queries[0])
	for _, query := range queries[1:] {
		params.Add("q", query)
	}
	req, err := s.client.NewRequest(ctx, http.MethodGet, "/changes/", params, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(queries) == 1 {
		var changes []Change
		if err := s.client.DoJSON(req, &changes); err != nil {
			return nil, err
		}
		return [][]Change{changes}, nil
	}
	var pages [][]Change
	if err := s.client.DoJSON(req, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// Get returns a change by identifier, with optional extra fields.
func (s *ChangeService) Get(ctx context.Context, changeID string, fields ...string) (*Change, error) {
	params := url.Values{}
	for _, field := range fields {
		params.Add("o", field)
	}
	req, err := s.client.NewRequest(ctx, http.MethodGet, s.path(changeID), params, nil, nil)
	if err != nil {
		return nil, err
	}
	var change Change
	if err := s.client.DoJSON(req, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// Detail returns a change with its full detail view.
func (s *ChangeService) Detail(ctx context.Context, changeID string, fields ...string) (*Change, error) {
	params := url.Values{}
	for _, field := range fields {
		params.Add("o", field)
	}
	req, err := s.client.NewRequest(ctx, http.MethodGet, s.path(changeID)+"/detail", params, nil, nil)
	if err != nil {
		return nil, err
	}
	var change Change
	if err := s.client.DoJSON(req, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// CurrentCommit returns the commit of the change's current revision.
func (s *ChangeService) CurrentCommit(ctx context.Context, changeID string) (*CommitInfo, error) {
	req, err := s.client.NewRequest(ctx, http.MethodGet, s.path(changeID)+"/revisions/current/commit", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var commit CommitInfo
	if err := s.client.DoJSON(req, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// Abandon abandons an open change.
func (s *ChangeService) Abandon(ctx context.Context, changeID, message string) (*Change, error) {
	return s.statusAction(ctx, changeID, "abandon", message)
}

// Restore restores an abandoned change.
func (s *ChangeService) Restore(ctx context.Context, changeID, message string) (*Change, error) {
	return s.statusAction(ctx, changeID, "restore", message)
}

func (s *ChangeService) statusAction(ctx context.Context, changeID, action, message string) (*Change, error) {
	var body any
	if message != "" {
		body = actionInput{Message: message}
	}
	req, err := s.client.NewRequest(ctx, http.MethodPost, s.path(changeID)+"/"+action, nil, nil, body)
	if err != nil {
		return nil, err
	}
	var change Change
	if err := s.client.DoJSON(req, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// Submit submits a change to its branch.
func (s *ChangeService) Submit(ctx context.Context, changeID string) (*Change, error) {
	req, err := s.client.NewRequest(ctx, http.MethodPost, s.path(changeID)+"/submit", nil, nil, submitInput{WaitForMerge: true})
	if err != nil {
		return nil, err
	}
	var change Change
	if err := s.client.DoJSON(req, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// SetReview posts a review on the current revision and verifies that
// every requested label vote was applied.
func (s *ChangeService) SetReview(ctx context.Context, changeID string, review ReviewInput) (*ReviewResult, error) {
	req, err := s.client.NewRequest(ctx, http.MethodPost, s.path(changeID)+"/revisions/current/review", nil, nil, review)
	if err != nil {
		return nil, err
	}
	var result ReviewResult
	if err := s.client.DoJSON(req, &result); err != nil {
		return nil, err
	}
	for label, value := range review.Labels {
		applied, ok := result.Labels[label]
		if !ok || applied != value {
			return nil, fmt.Errorf("unable to set label %s to %d on change %s", label, value, changeID)
		}
	}
	return &result, nil
}

// Reviewers lists the accounts reviewing a change.
func (s *ChangeService) Reviewers(ctx context.Context, changeID string) ([]AccountInfo, error) {
	req, err := s.client.NewRequest(ctx, http.MethodGet, s.path(changeID)+"/reviewers", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var reviewers []AccountInfo
	if err := s.client.DoJSON(req, &reviewers); err != nil {
		return nil, err
	}
	return reviewers, nil
}

// AddReviewer adds a reviewer. A 422 response (the service cannot map
// the name to an account) is not an error; it reports false instead.
func (s *ChangeService) AddReviewer(ctx context.Context, changeID, reviewer string) (bool, error) {
	req, err := s.client.NewRequest(ctx, http.MethodPost, s.path(changeID)+"/reviewers", nil, nil, reviewerInput{Reviewer: reviewer})
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req, ExpectStatus(http.StatusOK, http.StatusUnprocessableEntity))
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusOK, nil
}

// RemoveReviewer removes a reviewer from a change.
func (s *ChangeService) RemoveReviewer(ctx context.Context, changeID, accountID string) error {
	req, err := s.client.NewRequest(ctx, http.MethodDelete, s.path(changeID)+"/reviewers/"+url.PathEscape(accountID), nil, nil, nil)
	if err != nil {
		return err
	}
	_, err = s.client.Do(req, ExpectStatus(http.StatusNoContent))
	return err
}

// SetCommitMessage replaces the commit message through a change edit and
// publishes it. A failed publish cleans up the pending edit.
func (s *ChangeService) SetCommitMessage(ctx context.Context, changeID, message string) error {
	if err := s.setMessageEdit(ctx, changeID, message); err != nil {
		s.discardEdit(ctx, changeID)
		return err
	}
	if err := s.publishEdit(ctx, changeID); err != nil {
		s.discardEdit(ctx, changeID)
		return err
	}
	return nil
}

func (s *ChangeService) setMessageEdit(ctx context.Context, changeID, message string) error {
	req, err := s.client.NewRequest(ctx, http.MethodPut, s.path(changeID)+"/edit:message", nil, nil, editMessageInput{Message: message})
	if err != nil {
		return err
	}
	_, err = s.client.Do(req, ExpectStatus(http.StatusNoContent))
	return err
}

func (s *ChangeService) publishEdit(ctx context.Context, changeID string) error {
	req, err := s.client.NewRequest(ctx, http.MethodPost, s.path(changeID)+"/edit:publish", nil, nil, publishEditInput{})
	if err != nil {
		return err
	}
	_, err = s.client.Do(req, ExpectStatus(http.StatusNoContent))
	return err
}

func (s *ChangeService) discardEdit(ctx context.Context, changeID string) {
	if err := s.DeletePendingEdit(ctx, changeID); err != nil {
		s.client.log.Debugw("failed to discard pending change edit", "change", changeID, "error", err)
	}
}

// HasPendingEdit reports whether the change has an unpublished edit.
func (s *ChangeService) HasPendingEdit(ctx context.Context, changeID string) (bool, error) {
	req, err := s.client.NewRequest(ctx, http.MethodGet, s.path(changeID)+"/edit", nil, nil, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req, ExpectStatus(http.StatusOK, http.StatusNoContent))
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusOK, nil
}

// DeletePendingEdit discards the change's unpublished edit, if any.
func (s *ChangeService) DeletePendingEdit(ctx context.Context, changeID string) error {
	req, err := s.client.NewRequest(ctx, http.MethodDelete, s.path(changeID)+"/edit", nil, nil, nil)
	if err != nil {
		return err
	}
	// The edit may not exist, which the service reports as 404.
	_, err = s.client.Do(req, ExpectStatus(http.StatusNoContent, http.StatusNotFound))
	return err
}

func (s *ChangeService) path(changeID string) string {
	return "/changes/" + url.PathEscape(changeID)
}
