package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"remedy-agent/src/agent"
	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/patterns"
	"remedy-agent/src/provider"
	"remedy-agent/src/sanitize"
)

const (
	defaultLimit = 15
	// maxLineWidth caps pattern and error text in responses.
	maxLineWidth = 240
)

// Engine is the part of the agent the tools operate on.
type Engine interface {
	PatternJobs() []string
	Patterns(job string) []*contracts.PatternRecord
	Actions(key contracts.BuildKey) []contracts.ActionRecord
	Analysis(key contracts.BuildKey) (*contracts.AnalysisResult, bool)
	LearningStatus() agent.LearningStatus
	SetLearning(enabled bool)
	AnalyzeAndAct(ctx context.Context, job string, number int) error
}

// Server is the MCP server for the remediation agent.
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	logger    logger.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(engine Engine, version string, log logger.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("remedy", version, server.WithToolCapabilities(true)),
		engine:    engine,
		logger:    log,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	buildArgs := []mcp.ToolOption{
		mcp.WithString("url", mcp.Description("Jenkins build URL; alternative to job and number")),
		mcp.WithString("job", mcp.Description("Full job name, e.g. team/app")),
		mcp.WithNumber("number", mcp.Description("Build number")),
	}

	s.mcpServer.AddTool(mcp.NewTool("list_patterns",
		mcp.WithDescription("List learned failure patterns, success indicators and parameter correlations, grouped by job."),
		mcp.WithString("job", mcp.Description("Only this job (default: all jobs)")),
		mcp.WithString("kind", mcp.Description("Only this kind: failure, success or correlation")),
	), s.handleListPatterns)

	s.mcpServer.AddTool(mcp.NewTool("get_build_actions",
		append([]mcp.ToolOption{
			mcp.WithDescription("Show the remediation actions taken for a build and its cached analysis."),
			mcp.WithNumber("limit", mcp.Description("Max error patterns shown (default: 15)")),
		}, buildArgs...)...,
	), s.handleGetBuildActions)

	s.mcpServer.AddTool(mcp.NewTool("learning_status",
		mcp.WithDescription("Report whether learning is enabled, pattern counts per kind, cache size and monitored jobs."),
	), s.handleLearningStatus)

	s.mcpServer.AddTool(mcp.NewTool("set_learning",
		mcp.WithDescription("Enable or disable pattern learning. Remediation keeps running either way."),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("New learning state")),
	), s.handleSetLearning)

	s.mcpServer.AddTool(mcp.NewTool("analyze_build",
		append([]mcp.ToolOption{
			mcp.WithDescription("Analyze a build now, remediate it if it failed, and return the analysis with the actions taken."),
			mcp.WithNumber("limit", mcp.Description("Max error patterns shown (default: 15)")),
		}, buildArgs...)...,
	), s.handleAnalyzeBuild)
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleListPatterns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job := request.GetString("job", "")
	kind := contracts.PatternKind(request.GetString("kind", ""))
	switch kind {
	case "", contracts.KindFailure, contracts.KindSuccess, contracts.KindCorrelation:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
	}

	jobs := s.engine.PatternJobs()
	if job != "" {
		jobs = []string{job}
	}

	out := []JobPatterns{}
	for _, j := range jobs {
		var summaries []PatternSummary
		for _, rec := range s.engine.Patterns(j) {
			if kind != "" && rec.Kind != kind {
				continue
			}
			summaries = append(summaries, summarizePattern(rec))
		}
		if len(summaries) > 0 {
			out = append(out, JobPatterns{Job: j, Patterns: summaries})
		}
	}
	return jsonResult(out)
}

func (s *Server) handleGetBuildActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := buildKey(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.report(key, request.GetInt("limit", defaultLimit)))
}

func (s *Server) handleLearningStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.LearningStatus())
}

func (s *Server) handleSetLearning(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabled, err := request.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.engine.SetLearning(enabled)
	return jsonResult(s.engine.LearningStatus())
}

func (s *Server) handleAnalyzeBuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := buildKey(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("[MCP] analyze_build %s", key)
	if err := s.engine.AnalyzeAndAct(ctx, key.Job, key.Number); err != nil {
		if errors.Is(err, provider.ErrBuildInProgress) {
			return mcp.NewToolResultError(fmt.Sprintf("build %s is still running", key)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", provider.WrapError(err))), nil
	}
	return jsonResult(s.report(key, request.GetInt("limit", defaultLimit)))
}

func (s *Server) report(key contracts.BuildKey, limit int) BuildReport {
	rep := BuildReport{Build: key.String(), Actions: s.engine.Actions(key)}
	if rep.Actions == nil {
		rep.Actions = []contracts.ActionRecord{}
	}
	if result, ok := s.engine.Analysis(key); ok {
		rep.Analysis = summarizeAnalysis(result, limit)
	}
	return rep
}

// buildKey resolves the url argument, or job and number.
func buildKey(request mcp.CallToolRequest) (contracts.BuildKey, error) {
	if raw := request.GetString("url", ""); raw != "" {
		key, err := provider.ParseBuildURL(raw)
		if err != nil {
			return contracts.BuildKey{}, provider.WrapError(err)
		}
		return key, nil
	}

	job := request.GetString("job", "")
	number := request.GetInt("number", 0)
	if job == "" || number <= 0 {
		return contracts.BuildKey{}, errors.New("either url, or job and a positive number, is required")
	}
	return contracts.BuildKey{Job: job, Number: number}, nil
}

func summarizePattern(rec *contracts.PatternRecord) PatternSummary {
	sum := PatternSummary{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Pattern:   sanitize.Truncate(rec.Pattern, maxLineWidth),
		Frequency: rec.Frequency,
		LastSeen:  rec.LastSeen,
	}
	if rec.Solution != nil {
		sum.Solution = rec.Solution.Type
	}
	switch {
	case rec.Failure != nil:
		sum.Severity = rec.Failure.Severity
		sum.Confidence = rec.Failure.Confidence
		sum.ErrorType = rec.Failure.ErrorType
		sum.Observations = len(rec.Failure.Contexts)
	case rec.Success != nil:
		sum.SuccessRate = rec.Success.SuccessRate
	case rec.Correlation != nil:
		for name := range rec.Correlation.Changed {
			sum.Changed = append(sum.Changed, name)
		}
		sort.Strings(sum.Changed)
	}
	return sum
}

func summarizeAnalysis(result *contracts.AnalysisResult, limit int) *AnalysisSummary {
	if limit <= 0 {
		limit = defaultLimit
	}

	sum := &AnalysisSummary{
		Result:          result.BuildInfo.Result,
		Severity:        result.Severity,
		Confidence:      result.Confidence,
		URL:             result.BuildInfo.URL,
		Duration:        result.BuildInfo.Duration.String(),
		Recommendations: result.Recommendations,
		Differences:     result.Differences,
		ErrorPatterns:   []ErrorLine{},
	}
	if result.LastSuccess != nil {
		sum.LastSuccess = result.LastSuccess.BuildNumber
	}

	shown := result.ErrorPatterns
	if len(shown) > limit {
		sum.Omitted = len(shown) - limit
		shown = shown[:limit]
	}
	texts := make([]string, len(shown))
	for i, ep := range shown {
		texts[i] = ep.Context
		if texts[i] == "" {
			texts[i] = ep.Pattern
		}
	}
	texts = patterns.NormalizeLines(texts, patterns.MaskPresentation)
	for i, ep := range shown {
		sum.ErrorPatterns = append(sum.ErrorPatterns, ErrorLine{
			Type:    ep.Type,
			Line:    ep.LineNumber,
			Message: sanitize.Truncate(texts[i], maxLineWidth),
		})
	}
	return sum
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
