package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewgate/internal/diff"
	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/internal/platform"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/pkg/models"
)

const defaultBaseURL = "https://api.github.com"

// perPage is the GitHub list page size; 100 is the API maximum
const perPage = 100

// Client implements the platform boundary against the GitHub REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryCfg   retry.Config
	log        zerolog.Logger
}

// New constructs a GitHub client. baseURL overrides the public API host
// for GitHub Enterprise; empty selects api.github.com.
func New(baseURL, token string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retry.DefaultConfig(),
		log:        log,
	}
}

type pullResponse struct {
	Title string `json:"title"`
	Draft bool   `json:"draft"`
	Base  struct {
		SHA string `json:"sha"`
	} `json:"base"`
	Head struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

type fileResponse struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename"`
	Status           string `json:"status"`
	Patch            string `json:"patch"`
}

type commentResponse struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

// FetchDiff retrieves the pull request metadata and per-file patches,
// parsed into the diff model.
func (c *Client) FetchDiff(ctx context.Context, ref platform.Ref) (*platform.PullRequestDiff, error) {
	var pull pullResponse
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/pulls/%d", ref.Repo, ref.Number), &pull); err != nil {
		return nil, err
	}

	pr := &platform.PullRequestDiff{
		Ref:     ref,
		Title:   pull.Title,
		Draft:   pull.Draft,
		BaseSHA: pull.Base.SHA,
		HeadSHA: pull.Head.SHA,
	}

	for page := 1; ; page++ {
		var files []fileResponse
		path := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=%d&page=%d", ref.Repo, ref.Number, perPage, page)
		if err := c.get(ctx, path, &files); err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.Patch == "" {
				// binary or too-large file, nothing reviewable
				continue
			}
			hunks, err := diff.ParseHunks(f.Patch)
			if err != nil {
				return nil, err
			}
			pr.Files = append(pr.Files, models.DiffFile{
				Path:     f.Filename,
				OldPath:  f.PreviousFilename,
				Kind:     changeKind(f.Status),
				Hunks:    hunks,
				RawPatch: f.Patch,
			})
		}
		if len(files) < perPage {
			break
		}
	}

	c.log.Debug().Str("pr", ref.String()).Int("files", len(pr.Files)).
		Str("head", pr.HeadSHA).Msg("fetched pull request diff")
	return pr, nil
}

func changeKind(status string) models.FileChangeKind {
	switch status {
	case "added":
		return models.FileAdded
	case "removed":
		return models.FileDeleted
	case "renamed":
		return models.FileRenamed
	default:
		return models.FileModified
	}
}

// ListComments returns the review comments already posted on the pull
// request, with fingerprints recovered from marker bodies.
func (c *Client) ListComments(ctx context.Context, ref platform.Ref) ([]models.ExistingComment, error) {
	var out []models.ExistingComment

	for page := 1; ; page++ {
		var comments []commentResponse
		path := fmt.Sprintf("/repos/%s/pulls/%d/comments?per_page=%d&page=%d", ref.Repo, ref.Number, perPage, page)
		if err := c.get(ctx, path, &comments); err != nil {
			return nil, err
		}
		out = append(out, convertComments(comments)...)
		if len(comments) < perPage {
			break
		}
	}

	// issue comments carry the fallback summaries
	for page := 1; ; page++ {
		var comments []commentResponse
		path := fmt.Sprintf("/repos/%s/issues/%d/comments?per_page=%d&page=%d", ref.Repo, ref.Number, perPage, page)
		if err := c.get(ctx, path, &comments); err != nil {
			return nil, err
		}
		out = append(out, convertComments(comments)...)
		if len(comments) < perPage {
			break
		}
	}

	return out, nil
}

// Apply executes the publish plan: inline comments where the finding has
// a line, a single fallback comment for the rest. Each post failure is
// isolated to its finding.
func (c *Client) Apply(ctx context.Context, pr *platform.PullRequestDiff, plan *models.PublishPlan) []models.PostOutcome {
	var outcomes []models.PostOutcome
	var fallback []models.Finding

	for _, f := range plan.Creates() {
		if f.Line <= 0 {
			fallback = append(fallback, f)
			continue
		}
		err := c.postInline(ctx, pr, &f)
		outcomes = append(outcomes, models.PostOutcome{Finding: f, Err: err})
		if err != nil {
			c.log.Warn().Err(err).Str("ref", f.Ref()).Msg("inline comment post failed")
		}
	}

	if len(fallback) > 0 {
		err := c.PostSummary(ctx, pr.Ref, platform.FallbackListBody(fallback))
		for _, f := range fallback {
			outcomes = append(outcomes, models.PostOutcome{Finding: f, Err: err})
		}
	}

	return outcomes
}

func (c *Client) postInline(ctx context.Context, pr *platform.PullRequestDiff, f *models.Finding) error {
	payload := map[string]interface{}{
		"body":      platform.CommentBody(f),
		"commit_id": pr.HeadSHA,
		"path":      f.Path,
		"line":      f.Line,
		"side":      "RIGHT",
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d/comments", pr.Ref.Repo, pr.Ref.Number)

	result := retry.Do(ctx, c.retryCfg, c.log, func() error {
		return c.post(ctx, path, payload)
	})
	if !result.Success {
		return fault.Publish(result.LastError)
	}
	return nil
}

// PostSummary posts a plain issue comment on the pull request
func (c *Client) PostSummary(ctx context.Context, ref platform.Ref, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", ref.Repo, ref.Number)
	result := retry.Do(ctx, c.retryCfg, c.log, func() error {
		return c.post(ctx, path, map[string]interface{}{"body": body})
	})
	if !result.Success {
		return fault.Publish(result.LastError)
	}
	return nil
}

func convertComments(comments []commentResponse) []models.ExistingComment {
	out := make([]models.ExistingComment, 0, len(comments))
	for _, cm := range comments {
		out = append(out, models.ExistingComment{
			Path:   cm.Path,
			Line:   cm.Line,
			Body:   cm.Body,
			Author: cm.User.Login,
		})
	}
	return out
}

func (c *Client) get(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// do executes the request and maps HTTP status codes onto the error
// taxonomy.
func (c *Client) do(req *http.Request, target interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		herr := fmt.Errorf("github api %s %s: %d %s", req.Method, sanitize(req.URL), resp.StatusCode, bytes.TrimSpace(data))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fault.Auth("%v", herr)
		case resp.StatusCode == http.StatusNotFound:
			return fault.NotFound("%v", herr)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fault.Transient(herr)
		default:
			return fault.Permanent(herr)
		}
	}

	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func sanitize(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	return clean.Path
}
