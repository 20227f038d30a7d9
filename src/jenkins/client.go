// Package jenkins provides a client for the Jenkins JSON API. It implements
// provider.CIServer.
package jenkins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/provider"
)

const (
	// MaxConsoleBytes caps how much of a console log is kept. Longer logs keep
	// their tail.
	MaxConsoleBytes = 20 << 20
	// MaxReportArtifacts caps how many JUnit artifacts are fetched per build.
	MaxReportArtifacts = 20

	defaultTimeout = 30 * time.Second
)

var _ provider.CIServer = (*Client)(nil)

// Config holds the connection settings.
type Config struct {
	URL   string
	User  string
	Token string
	// RateLimit is the request budget in requests per second; <= 0 disables
	// limiting.
	RateLimit float64
	Timeout   time.Duration
}

// Client is a Jenkins API client.
type Client struct {
	base       *url.URL
	user       string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
	// consoleLimit is the number of trailing console bytes kept per build.
	consoleLimit int64

	crumbMu sync.Mutex
	crumb   *crumb
}

type crumb struct {
	field string
	value string
}

// NewClient creates a Jenkins client for cfg.URL.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid Jenkins URL %q", cfg.URL)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		base:       base,
		user:       cfg.User,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     log,

		consoleLimit: MaxConsoleBytes,
	}, nil
}

// jobPath maps "team/app" to "/job/team/job/app". Each name is escaped as
// Jenkins escapes it in its own URLs, so the multibranch job "feature%2Fx"
// lives at "/job/feature%252Fx".
func jobPath(job string) string {
	var b strings.Builder
	for _, seg := range strings.Split(strings.Trim(job, "/"), "/") {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

func buildPath(job string, number int) string {
	return jobPath(job) + "/" + strconv.Itoa(number)
}

// listItem is one node of the nested job listing.
type listItem struct {
	Class    string     `json:"_class"`
	Name     string     `json:"name"`
	FullName string     `json:"fullName"`
	URL      string     `json:"url"`
	Jobs     []listItem `json:"jobs"`
}

// jobsTree builds the tree parameter for a listing descending depth levels.
func jobsTree(depth int) string {
	tree := "jobs[_class,name,fullName,url]"
	for i := 0; i < depth; i++ {
		tree = "jobs[_class,name,fullName,url," + tree + "]"
	}
	return tree
}

// ListJobs returns the top-level items followed by the contents of
// containers down to folderDepth levels, depth first.
func (c *Client) ListJobs(ctx context.Context, folderDepth int) ([]contracts.JobDescriptor, error) {
	var root struct {
		Jobs []listItem `json:"jobs"`
	}
	q := url.Values{"tree": {jobsTree(folderDepth)}}
	if err := c.getJSON(ctx, "list jobs", "/api/json", q, &root); err != nil {
		return nil, err
	}

	var out []contracts.JobDescriptor
	var walk func(items []listItem)
	walk = func(items []listItem) {
		for _, it := range items {
			full := it.FullName
			if full == "" {
				full = it.Name
			}
			out = append(out, contracts.JobDescriptor{Name: it.Name, FullName: full, Class: it.Class, URL: it.URL})
			walk(it.Jobs)
		}
	}
	walk(root.Jobs)
	return out, nil
}

// GetJobInfo returns the job summary with its last build number.
func (c *Client) GetJobInfo(ctx context.Context, job string) (*contracts.JobInfo, error) {
	var raw struct {
		Name      string `json:"name"`
		URL       string `json:"url"`
		LastBuild *struct {
			Number int `json:"number"`
		} `json:"lastBuild"`
	}
	q := url.Values{"tree": {"name,url,lastBuild[number]"}}
	if err := c.getJSON(ctx, "get job "+job, jobPath(job)+"/api/json", q, &raw); err != nil {
		return nil, err
	}

	info := &contracts.JobInfo{Name: job, URL: raw.URL}
	if raw.LastBuild != nil {
		info.LastBuildNumber = raw.LastBuild.Number
	}
	return info, nil
}

type rawBuild struct {
	Number    int     `json:"number"`
	Result    *string `json:"result"`
	Building  bool    `json:"building"`
	Timestamp int64   `json:"timestamp"`
	Duration  int64   `json:"duration"`
	URL       string  `json:"url"`
	Actions   []struct {
		Parameters []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"parameters"`
	} `json:"actions"`
}

func (r *rawBuild) parameters() map[string]string {
	params := make(map[string]string)
	for _, a := range r.Actions {
		for _, p := range a.Parameters {
			if p.Value == nil {
				params[p.Name] = ""
				continue
			}
			params[p.Name] = fmt.Sprint(p.Value)
		}
	}
	return params
}

// GetBuildInfo returns build metadata, parameters and the console log. The
// console log is not fetched while the build is running.
func (c *Client) GetBuildInfo(ctx context.Context, job string, number int) (*contracts.BuildInfo, error) {
	op := fmt.Sprintf("get build %s#%d", job, number)

	var raw rawBuild
	q := url.Values{"tree": {"number,result,building,timestamp,duration,url,actions[parameters[name,value]]"}}
	if err := c.getJSON(ctx, op, buildPath(job, number)+"/api/json", q, &raw); err != nil {
		return nil, err
	}

	result := ""
	if raw.Result != nil {
		result = *raw.Result
	}
	info := &contracts.BuildInfo{
		JobName:     job,
		BuildNumber: number,
		Result:      contracts.ParseBuildResult(result, raw.Building),
		Timestamp:   time.UnixMilli(raw.Timestamp),
		Duration:    time.Duration(raw.Duration) * time.Millisecond,
		Parameters:  raw.parameters(),
		URL:         raw.URL,
	}
	if info.Result == contracts.ResultInProgress {
		return info, nil
	}

	console, err := c.consoleTail(ctx, op+" console", buildPath(job, number)+"/consoleText")
	if err != nil {
		return nil, err
	}
	info.ConsoleLog = &console
	return info, nil
}

// consoleTruncatedMarker starts a console log whose head was dropped.
const consoleTruncatedMarker = "[remedy] console truncated, showing the last %d bytes\n"

// consoleTail downloads a console log keeping only its last consoleLimit
// bytes.
func (c *Client) consoleTail(ctx context.Context, op, p string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, p, nil, nil)
	if err != nil {
		return "", provider.Logic(op, err)
	}
	resp, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, dropped, err := readTail(resp.Body, c.consoleLimit)
	if err != nil {
		return "", provider.Transport(op, fmt.Errorf("failed to read response: %w", err))
	}
	if dropped == 0 {
		return string(data), nil
	}

	// Start on a whole line.
	if i := bytes.IndexByte(data, '\n'); i >= 0 && i < len(data)-1 {
		data = data[i+1:]
	}
	c.logger.Warn("[Jenkins] %s: dropped the first %d bytes of the console log", op, dropped)
	return fmt.Sprintf(consoleTruncatedMarker, len(data)) + string(data), nil
}

// readTail reads r to EOF and returns its last limit bytes together with the
// number of bytes discarded before them.
func readTail(r io.Reader, limit int64) ([]byte, int64, error) {
	var (
		buf     []byte
		dropped int64
		chunk   = make([]byte, 32<<10)
	)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if int64(len(buf)) > 2*limit {
			cut := int64(len(buf)) - limit
			dropped += cut
			buf = append(buf[:0], buf[cut:]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	if over := int64(len(buf)) - limit; over > 0 {
		dropped += over
		buf = buf[over:]
	}
	return buf, dropped, nil
}

// LastSuccessfulBuild returns the newest SUCCESS build numbered below
// before, or nil when the job has none.
func (c *Client) LastSuccessfulBuild(ctx context.Context, job string, before int) (*contracts.BuildInfo, error) {
	var raw struct {
		Builds []struct {
			Number int     `json:"number"`
			Result *string `json:"result"`
		} `json:"builds"`
	}
	q := url.Values{"tree": {"builds[number,result]"}}
	if err := c.getJSON(ctx, "list builds "+job, jobPath(job)+"/api/json", q, &raw); err != nil {
		return nil, err
	}

	for _, b := range raw.Builds {
		if b.Number >= before || b.Result == nil || *b.Result != string(contracts.ResultSuccess) {
			continue
		}
		return c.GetBuildInfo(ctx, job, b.Number)
	}
	return nil, nil
}

// TriggerBuild queues a build, with parameters when any are given.
func (c *Client) TriggerBuild(ctx context.Context, job string, params map[string]string) error {
	endpoint := jobPath(job) + "/build"
	form := url.Values{}
	if len(params) > 0 {
		endpoint = jobPath(job) + "/buildWithParameters"
		for k, v := range params {
			form.Set(k, v)
		}
	}
	if err := c.post(ctx, "trigger "+job, endpoint, form); err != nil {
		return err
	}
	c.logger.Info("[Jenkins] Triggered build of %s", job)
	return nil
}

// PostBuildAnnotation replaces the build description.
func (c *Client) PostBuildAnnotation(ctx context.Context, job string, number int, text string) error {
	form := url.Values{"description": {text}}
	return c.post(ctx, fmt.Sprintf("annotate %s#%d", job, number), buildPath(job, number)+"/submitDescription", form)
}

// TestReports downloads the build's XML artifacts. An artifact that cannot
// be downloaded is logged and skipped.
func (c *Client) TestReports(ctx context.Context, job string, number int) ([][]byte, error) {
	op := fmt.Sprintf("list artifacts %s#%d", job, number)

	var raw struct {
		Artifacts []struct {
			RelativePath string `json:"relativePath"`
		} `json:"artifacts"`
	}
	q := url.Values{"tree": {"artifacts[relativePath]"}}
	if err := c.getJSON(ctx, op, buildPath(job, number)+"/api/json", q, &raw); err != nil {
		return nil, err
	}

	var reports [][]byte
	for _, a := range raw.Artifacts {
		if !strings.EqualFold(path.Ext(a.RelativePath), ".xml") {
			continue
		}
		if len(reports) == MaxReportArtifacts {
			c.logger.Warn("[Jenkins] %s#%d has more than %d XML artifacts, ignoring the rest", job, number, MaxReportArtifacts)
			break
		}
		data, err := c.get(ctx, "download "+a.RelativePath, buildPath(job, number)+"/artifact/"+escapePath(a.RelativePath), nil, MaxConsoleBytes)
		if err != nil {
			c.logger.Warn("[Jenkins] Skipping artifact %s of %s#%d: %v", a.RelativePath, job, number, err)
			continue
		}
		reports = append(reports, data)
	}
	return reports, nil
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func (c *Client) getJSON(ctx context.Context, op, p string, q url.Values, out any) error {
	body, err := c.get(ctx, op, p, q, MaxConsoleBytes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return provider.Logic(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, p string, q url.Values, limit int64) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, p, q, nil)
	if err != nil {
		return nil, provider.Logic(op, err)
	}
	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, provider.Transport(op, fmt.Errorf("failed to read response: %w", err))
	}
	return data, nil
}

// post sends a form, attaching a CSRF crumb when the server issues one. A
// rejected crumb is refreshed once.
func (c *Client) post(ctx context.Context, op, p string, form url.Values) error {
	for attempt := 0; ; attempt++ {
		cr, err := c.getCrumb(ctx, attempt > 0)
		if err != nil {
			return err
		}

		req, err := c.newRequest(ctx, http.MethodPost, p, nil, strings.NewReader(form.Encode()))
		if err != nil {
			return provider.Logic(op, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if cr != nil {
			req.Header.Set(cr.field, cr.value)
		}

		resp, err := c.do(op, req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		if attempt > 0 || cr == nil || !errors.Is(err, provider.ErrAuthFailed) {
			return err
		}
		c.logger.Debug("[Jenkins] Crumb rejected for %s, refreshing", op)
	}
}

func (c *Client) getCrumb(ctx context.Context, refresh bool) (*crumb, error) {
	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()

	if c.crumb != nil && !refresh {
		return c.crumb, nil
	}

	var raw struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}
	err := c.getJSON(ctx, "get crumb", "/crumbIssuer/api/json", nil, &raw)
	switch {
	case errors.Is(err, provider.ErrBuildNotFound):
		// CSRF protection disabled.
		return nil, nil
	case err != nil:
		return nil, err
	}
	c.crumb = &crumb{field: raw.CrumbRequestField, value: raw.Crumb}
	return c.crumb, nil
}

func (c *Client) newRequest(ctx context.Context, method, p string, q url.Values, body io.Reader) (*http.Request, error) {
	target := c.base.String() + p
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.user != "" || c.token != "" {
		req.SetBasicAuth(c.user, c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do waits for the rate limiter, executes req and maps failures onto the
// provider error taxonomy. The caller closes the body of a successful
// response.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, provider.Transport(op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, provider.Transport(op, fmt.Errorf("%w: %v", provider.ErrNetworkTimeout, err))
		}
		return nil, provider.Transport(op, fmt.Errorf("failed to execute request: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	status := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, provider.Transport(op, fmt.Errorf("%w: %v", provider.ErrAuthFailed, status))
	case http.StatusNotFound:
		return nil, provider.Transport(op, fmt.Errorf("%w: %v", provider.ErrBuildNotFound, status))
	case http.StatusTooManyRequests:
		return nil, provider.Transport(op, fmt.Errorf("%w: %v", provider.ErrRateLimited, status))
	default:
		return nil, provider.Transport(op, status)
	}
}
