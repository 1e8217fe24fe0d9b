package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const searchPath = "/rest/api/3/search/jql"

// Client issues authenticated search requests against a Jira-compatible
// tracker. It owns no credentials; each call carries the project's base URL
// and token so one client serves every project.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

type SearchParams struct {
	BaseURL    string
	Token      string
	JQL        string
	PageToken  string
	MaxResults int
}

type SearchPage struct {
	Issues        []RemoteIssue
	NextPageToken *string
}

// RemoteIssue is one issue as returned by the search endpoint, with its
// embedded comments and worklogs.
type RemoteIssue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

type IssueFields struct {
	Summary  string       `json:"summary"`
	Status   StatusField  `json:"status"`
	Assignee *UserField   `json:"assignee"`
	Updated  Time         `json:"updated"`
	Comment  CommentPage  `json:"comment"`
	Worklog  WorklogPage  `json:"worklog"`
}

type StatusField struct {
	Name string `json:"name"`
}

type UserField struct {
	AccountID string `json:"accountId"`
}

type CommentPage struct {
	Comments []RemoteComment `json:"comments"`
}

type RemoteComment struct {
	ID      string     `json:"id"`
	Author  *UserField `json:"author"`
	Body    string     `json:"body"`
	Updated Time       `json:"updated"`
}

type WorklogPage struct {
	Worklogs []RemoteWorklog `json:"worklogs"`
}

type RemoteWorklog struct {
	ID               string     `json:"id"`
	Author           *UserField `json:"author"`
	TimeSpentSeconds int64      `json:"timeSpentSeconds"`
	Started          Time       `json:"started"`
}

// Time handles Jira's non-RFC3339 timestamp format.
type Time struct {
	time.Time
}

const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(jiraTimeLayout, s)
	if err != nil {
		// Some deployments emit plain RFC3339.
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("parsing jira timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(jiraTimeLayout))
}

type searchResponse struct {
	Issues        []RemoteIssue `json:"issues"`
	NextPageToken *string       `json:"nextPageToken"`
}

type errorResponse struct {
	ErrorCode     string   `json:"errorCode"`
	ErrorMessages []string `json:"errorMessages"`
}

// Search fetches one page of issues matching the JQL query. An empty PageToken
// requests the first page. Failures come back as *RemoteError carrying the
// classification the backoff controller depends on.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchPage, error) {
	endpoint := strings.TrimSuffix(params.BaseURL, "/") + searchPath

	query := url.Values{}
	query.Set("jql", params.JQL)
	query.Set("fields", "summary,status,assignee,updated,comment,worklog")
	if params.MaxResults > 0 {
		query.Set("maxResults", fmt.Sprintf("%d", params.MaxResults))
	}
	if params.PageToken != "" {
		query.Set("nextPageToken", params.PageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+params.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Classification: Classify(0, "", err.Error())}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Classification: Classify(0, "", err.Error())}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	return &SearchPage{
		Issues:        parsed.Issues,
		NextPageToken: parsed.NextPageToken,
	}, nil
}

func classifyHTTPError(status int, body []byte) *RemoteError {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	message := http.StatusText(status)
	if len(errResp.ErrorMessages) > 0 {
		message = strings.Join(errResp.ErrorMessages, "; ")
	}

	return &RemoteError{Classification: Classify(status, errResp.ErrorCode, message)}
}
