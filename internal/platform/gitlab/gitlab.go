package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/reviewgate/internal/diff"
	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/internal/platform"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/pkg/models"
)

const defaultBaseURL = "https://gitlab.com"

// perPage is the GitLab list page size; 100 is the API maximum
const perPage = 100

// Client implements the platform boundary against the GitLab REST API.
// The pinned client-go version covers only part of the merge request
// surface, so data and discussion calls go over plain HTTP against
// /api/v4, with PRIVATE-TOKEN auth.
type Client struct {
	api        *gitlab.Client
	baseURL    string // instance root plus /api/v4
	token      string
	httpClient *http.Client
	retryCfg   retry.Config
	log        zerolog.Logger
}

// New constructs a GitLab client. baseURL points at the instance root
// (e.g. https://gitlab.example.com); empty selects gitlab.com.
func New(baseURL, token string, log zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	api := gitlab.NewClient(nil, token)
	if err := api.SetBaseURL(baseURL + "/api/v4"); err != nil {
		return nil, fault.Config("invalid gitlab base url %q: %v", baseURL, err)
	}

	return &Client{
		api:        api,
		baseURL:    baseURL + "/api/v4",
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retry.DefaultConfig(),
		log:        log,
	}, nil
}

type mergeRequestResponse struct {
	Title          string `json:"title"`
	Draft          bool   `json:"draft"`
	WorkInProgress bool   `json:"work_in_progress"`
	DiffRefs       struct {
		BaseSHA  string `json:"base_sha"`
		HeadSHA  string `json:"head_sha"`
		StartSHA string `json:"start_sha"`
	} `json:"diff_refs"`
}

type changesResponse struct {
	Changes []struct {
		OldPath     string `json:"old_path"`
		NewPath     string `json:"new_path"`
		Diff        string `json:"diff"`
		NewFile     bool   `json:"new_file"`
		RenamedFile bool   `json:"renamed_file"`
		DeletedFile bool   `json:"deleted_file"`
	} `json:"changes"`
}

type noteResponse struct {
	Body   string `json:"body"`
	System bool   `json:"system"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
	Position *struct {
		NewPath string `json:"new_path"`
		NewLine int    `json:"new_line"`
	} `json:"position"`
}

// FetchDiff retrieves merge request metadata and per-file diffs
func (c *Client) FetchDiff(ctx context.Context, ref platform.Ref) (*platform.PullRequestDiff, error) {
	var mr mergeRequestResponse
	if err := c.get(ctx, c.mrPath(ref, ""), &mr); err != nil {
		return nil, err
	}

	pr := &platform.PullRequestDiff{
		Ref:      ref,
		Title:    mr.Title,
		Draft:    mr.Draft || mr.WorkInProgress,
		BaseSHA:  mr.DiffRefs.BaseSHA,
		HeadSHA:  mr.DiffRefs.HeadSHA,
		StartSHA: mr.DiffRefs.StartSHA,
	}

	var changes changesResponse
	if err := c.get(ctx, c.mrPath(ref, "/changes"), &changes); err != nil {
		return nil, err
	}
	for _, ch := range changes.Changes {
		if ch.Diff == "" {
			continue
		}
		hunks, err := diff.ParseHunks(ch.Diff)
		if err != nil {
			return nil, err
		}
		f := models.DiffFile{
			Path:     ch.NewPath,
			Kind:     models.FileModified,
			Hunks:    hunks,
			RawPatch: ch.Diff,
		}
		switch {
		case ch.NewFile:
			f.Kind = models.FileAdded
		case ch.DeletedFile:
			f.Kind = models.FileDeleted
			f.Path = ch.OldPath
		case ch.RenamedFile:
			f.Kind = models.FileRenamed
			f.OldPath = ch.OldPath
		}
		pr.Files = append(pr.Files, f)
	}

	c.log.Debug().Str("mr", ref.String()).Int("files", len(pr.Files)).
		Str("head", pr.HeadSHA).Msg("fetched merge request diff")
	return pr, nil
}

// ListComments returns existing merge request notes for deduplication
func (c *Client) ListComments(ctx context.Context, ref platform.Ref) ([]models.ExistingComment, error) {
	var out []models.ExistingComment

	for page := 1; ; page++ {
		var notes []noteResponse
		path := fmt.Sprintf("%s/notes?per_page=%d&page=%d", c.mrPath(ref, ""), perPage, page)
		if err := c.get(ctx, path, &notes); err != nil {
			return nil, err
		}
		for _, n := range notes {
			if n.System {
				continue
			}
			comment := models.ExistingComment{
				Body:   n.Body,
				Author: n.Author.Username,
			}
			if n.Position != nil {
				comment.Path = n.Position.NewPath
				comment.Line = n.Position.NewLine
			}
			out = append(out, comment)
		}
		if len(notes) < perPage {
			break
		}
	}
	return out, nil
}

// Apply posts inline discussions for positioned findings and a fallback
// note for the rest, isolating failures per finding.
func (c *Client) Apply(ctx context.Context, pr *platform.PullRequestDiff, plan *models.PublishPlan) []models.PostOutcome {
	var outcomes []models.PostOutcome
	var fallback []models.Finding

	for _, f := range plan.Creates() {
		if f.Line <= 0 {
			fallback = append(fallback, f)
			continue
		}
		err := c.postDiscussion(ctx, pr, &f)
		outcomes = append(outcomes, models.PostOutcome{Finding: f, Err: err})
		if err != nil {
			c.log.Warn().Err(err).Str("ref", f.Ref()).Msg("inline discussion post failed")
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

func (c *Client) postDiscussion(ctx context.Context, pr *platform.PullRequestDiff, f *models.Finding) error {
	form := url.Values{}
	form.Set("body", platform.CommentBody(f))
	form.Set("position[position_type]", "text")
	form.Set("position[base_sha]", pr.BaseSHA)
	form.Set("position[start_sha]", pr.StartSHA)
	form.Set("position[head_sha]", pr.HeadSHA)
	form.Set("position[new_path]", f.Path)
	form.Set("position[new_line]", strconv.Itoa(f.Line))

	path := c.mrPath(pr.Ref, "/discussions")
	result := retry.Do(ctx, c.retryCfg, c.log, func() error {
		return c.postForm(ctx, path, form)
	})
	if !result.Success {
		return fault.Publish(result.LastError)
	}
	return nil
}

// PostSummary posts a plain (non-positioned) merge request note
func (c *Client) PostSummary(ctx context.Context, ref platform.Ref, body string) error {
	form := url.Values{}
	form.Set("body", body)

	path := c.mrPath(ref, "/notes")
	result := retry.Do(ctx, c.retryCfg, c.log, func() error {
		return c.postForm(ctx, path, form)
	})
	if !result.Success {
		return fault.Publish(result.LastError)
	}
	return nil
}

func (c *Client) mrPath(ref platform.Ref, suffix string) string {
	return fmt.Sprintf("%s/projects/%s/merge_requests/%d%s",
		c.baseURL, url.PathEscape(ref.Repo), ref.Number, suffix)
}

func (c *Client) get(ctx context.Context, rawURL string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

// do executes the request and maps HTTP status codes onto the error
// taxonomy.
func (c *Client) do(req *http.Request, target interface{}) error {
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		herr := fmt.Errorf("gitlab api %s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
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
