// Package loginspect scrapes structured issues out of raw console logs.
// Every function is pure: text in, issue lists out.
package loginspect

import (
	"regexp"
	"strconv"
	"strings"

	"remedy-agent/src/contracts"
)

// ContextLines is the number of lines kept on each side of an error line.
const ContextLines = 5

// SlowPhaseThreshold marks phases slower than this many seconds.
const SlowPhaseThreshold = 60.0

var (
	errorLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)error:`),
		regexp.MustCompile(`(?i)exception:`),
		regexp.MustCompile(`(?i)failure:`),
		regexp.MustCompile(`(?i)failed`),
		regexp.MustCompile(`BUILD FAILED`),
		regexp.MustCompile(`\[ERROR\]`),
	}

	junitSummary   = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+), Skipped: (\d+)`)
	failLine       = regexp.MustCompile(`FAIL: ([\w.]+)`)
	mavenFailedHdr = regexp.MustCompile(`(?m)^.*Failed tests:\s*(.*)$`)
	mavenFailedRow = regexp.MustCompile(`^\s+([\w.]+)`)

	totalTimePatterns = []*regexp.Regexp{
		regexp.MustCompile(`Total time: ([\d.]+) s`),
		regexp.MustCompile(`Finished: (\w+) \(at (.*)\) \[([\d.]+) s\]`),
		regexp.MustCompile(`BUILD (\w+) in ([\d.]+)s`),
	}
	phasePattern = regexp.MustCompile(`\[(\w+)\] (.*?) \[([\d.]+)s\]`)

	dependencyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Could not resolve dependencies for project (.*?): Failed to collect dependencies for \[(.*?)\]`),
		regexp.MustCompile(`Could not find artifact (\S+) in (.*)`),
		regexp.MustCompile(`Failed to resolve: (.*)`),
		regexp.MustCompile(`Unable to find version (.*?) for package (.*)`),
	}

	jvmCompile = regexp.MustCompile(`(?m)^(.*?\.(?:java|groovy|kt)):\[(\d+),(\d+)\] error: (.*?)$`)
	pyCompile  = regexp.MustCompile(`(?m)^(.*?\.py):(\d+): (.*?)$`)
	tsCompile  = regexp.MustCompile(`(?m)^(.*?\.(?:ts|js)):(\d+):(\d+): error (TS\d+): (.*?)$`)
)

// ErrorLine is a console line that looks like an error, with surrounding lines.
type ErrorLine struct {
	Line       string
	LineNumber int
	Context    string
}

// ErrorLines returns every line matching a generic error marker. Line numbers
// are 1-based; context spans ContextLines lines on each side.
func ErrorLines(log string) []ErrorLine {
	if log == "" {
		return nil
	}
	lines := strings.Split(log, "\n")
	var out []ErrorLine
	for i, line := range lines {
		if !matchesAny(errorLinePatterns, line) {
			continue
		}
		start := max(0, i-ContextLines)
		end := min(len(lines), i+ContextLines+1)
		out = append(out, ErrorLine{
			Line:       line,
			LineNumber: i + 1,
			Context:    strings.Join(lines[start:end], "\n"),
		})
	}
	return out
}

// TestReport summarizes test failures found in a log.
type TestReport struct {
	FailedTests  []contracts.TestFailure
	FailureCount int
	ErrorCount   int
	SkippedCount int
}

// TestFailures collects JUnit summary counts and individually named failed
// tests. Each test name is reported once.
func TestFailures(log string) TestReport {
	var report TestReport

	for _, m := range junitSummary.FindAllStringSubmatch(log, -1) {
		report.FailureCount += atoi(m[2])
		report.ErrorCount += atoi(m[3])
		report.SkippedCount += atoi(m[4])
	}

	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimRight(name, ".")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		report.FailedTests = append(report.FailedTests, contracts.TestFailure{
			Name:    name,
			Package: contracts.TestPackage(name),
		})
	}

	for _, m := range failLine.FindAllStringSubmatch(log, -1) {
		add(m[1])
	}

	// Maven lists failed tests as indented rows under a "Failed tests:" header.
	lines := strings.Split(log, "\n")
	for i := 0; i < len(lines); i++ {
		if !mavenFailedHdr.MatchString(lines[i]) {
			continue
		}
		if m := mavenFailedHdr.FindStringSubmatch(lines[i]); m != nil {
			if rest := strings.TrimSpace(m[1]); rest != "" {
				add(strings.Fields(rest)[0])
			}
		}
		for i+1 < len(lines) {
			m := mavenFailedRow.FindStringSubmatch(lines[i+1])
			if m == nil {
				break
			}
			add(m[1])
			i++
		}
	}

	return report
}

// Phase is a timed build phase.
type Phase struct {
	Name    string
	Seconds float64
}

// Timing holds build timing information.
type Timing struct {
	// TotalSeconds is the longest total reported, or 0 when none was found.
	TotalSeconds float64
	PhaseTimes   map[string]float64
	SlowPhases   []Phase
}

// BuildTiming extracts total build time and per-phase timings.
func BuildTiming(log string) Timing {
	timing := Timing{PhaseTimes: make(map[string]float64)}

	for _, p := range totalTimePatterns {
		for _, m := range p.FindAllStringSubmatch(log, -1) {
			if secs, err := strconv.ParseFloat(m[len(m)-1], 64); err == nil && secs > timing.TotalSeconds {
				timing.TotalSeconds = secs
			}
		}
	}

	for _, m := range phasePattern.FindAllStringSubmatch(log, -1) {
		secs, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		timing.PhaseTimes[m[2]] = secs
		if secs > SlowPhaseThreshold {
			timing.SlowPhases = append(timing.SlowPhases, Phase{Name: m[2], Seconds: secs})
		}
	}

	return timing
}

// DependencyIssue is a failed dependency resolution.
type DependencyIssue struct {
	Message  string
	Artifact string
}

// DependencyIssues finds dependency resolution failures.
func DependencyIssues(log string) []DependencyIssue {
	var issues []DependencyIssue
	for _, p := range dependencyPatterns {
		for _, m := range p.FindAllStringSubmatch(log, -1) {
			issues = append(issues, DependencyIssue{
				Message:  strings.TrimSpace(m[0]),
				Artifact: strings.TrimSpace(m[1]),
			})
		}
	}
	return issues
}

// CompilationIssue is a compiler diagnostic. Line and Column are 0 when the
// compiler did not report them.
type CompilationIssue struct {
	File    string
	Line    int
	Column  int
	Code    string
	Message string
}

// CompilationIssues finds JVM, Python and TypeScript compiler errors.
func CompilationIssues(log string) []CompilationIssue {
	var issues []CompilationIssue
	for _, m := range jvmCompile.FindAllStringSubmatch(log, -1) {
		issues = append(issues, CompilationIssue{
			File: strings.TrimSpace(m[1]), Line: atoi(m[2]), Column: atoi(m[3]), Message: m[4],
		})
	}
	for _, m := range pyCompile.FindAllStringSubmatch(log, -1) {
		issues = append(issues, CompilationIssue{
			File: strings.TrimSpace(m[1]), Line: atoi(m[2]), Message: m[3],
		})
	}
	for _, m := range tsCompile.FindAllStringSubmatch(log, -1) {
		issues = append(issues, CompilationIssue{
			File: strings.TrimSpace(m[1]), Line: atoi(m[2]), Column: atoi(m[3]), Code: m[4], Message: m[5],
		})
	}
	return issues
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
