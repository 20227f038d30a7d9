package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"remedy-agent/src/contracts"
)

var ErrInvalidURL = errors.New("invalid build URL")

// CIServer is the CI system the agent monitors and acts on.
type CIServer interface {
	// ListJobs returns the top-level items, flattening container contents
	// down to folderDepth levels.
	ListJobs(ctx context.Context, folderDepth int) ([]contracts.JobDescriptor, error)

	// GetJobInfo returns the job summary used to detect new builds.
	GetJobInfo(ctx context.Context, job string) (*contracts.JobInfo, error)

	// GetBuildInfo returns build metadata, parameters and console log.
	GetBuildInfo(ctx context.Context, job string, number int) (*contracts.BuildInfo, error)

	// LastSuccessfulBuild returns the newest SUCCESS build numbered below
	// before, or nil when there is none.
	LastSuccessfulBuild(ctx context.Context, job string, before int) (*contracts.BuildInfo, error)

	// TriggerBuild queues a new build with the given parameters.
	TriggerBuild(ctx context.Context, job string, params map[string]string) error

	// PostBuildAnnotation replaces the description of a build.
	PostBuildAnnotation(ctx context.Context, job string, number int, text string) error
}

// Analyzer turns a build and its optional reference success into an analysis.
type Analyzer interface {
	Analyze(ctx context.Context, build *contracts.BuildInfo, lastSuccess *contracts.BuildInfo) (*contracts.AnalysisResult, error)
}

var buildNumberPattern = regexp.MustCompile(`^\d+$`)

// ParseBuildURL extracts the job full name and build number from a Jenkins
// build URL such as https://ci/job/team/job/app/42/.
func ParseBuildURL(raw string) (contracts.BuildKey, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return contracts.BuildKey{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	var names []string
	number := 0
	for i := 0; i < len(segments); i++ {
		switch {
		case segments[i] == "job" && i+1 < len(segments):
			name, err := url.PathUnescape(segments[i+1])
			if err != nil {
				return contracts.BuildKey{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
			}
			names = append(names, name)
			i++
		case buildNumberPattern.MatchString(segments[i]) && len(names) > 0:
			number, _ = strconv.Atoi(segments[i])
		}
	}

	if len(names) == 0 || number == 0 {
		return contracts.BuildKey{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return contracts.BuildKey{Job: strings.Join(names, "/"), Number: number}, nil
}
