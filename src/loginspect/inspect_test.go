package loginspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mavenLog = `[INFO] Scanning for projects...
[INFO] Building app 1.0
Running com.example.AuthTest
Tests run: 5, Failures: 2, Errors: 1, Skipped: 1, Time elapsed: 0.4 s
Tests run: 3, Failures: 0, Errors: 0, Skipped: 0

Failed tests:
  com.example.AuthTest.testLogin
  com.example.AuthTest.testLogout

[INFO] Total time: 42.5 s
[ERROR] BUILD FAILURE`

func TestTestFailures(t *testing.T) {
	t.Run("maven summary and failed test block", func(t *testing.T) {
		report := TestFailures(mavenLog)

		assert.Equal(t, 2, report.FailureCount)
		assert.Equal(t, 1, report.ErrorCount)
		assert.Equal(t, 1, report.SkippedCount)
		require.Len(t, report.FailedTests, 2)
		assert.Equal(t, "com.example.AuthTest.testLogin", report.FailedTests[0].Name)
		assert.Equal(t, "com.example.AuthTest", report.FailedTests[0].Package)
	})

	t.Run("FAIL lines grouped by package", func(t *testing.T) {
		log := "FAIL: pkg.A.test1\nFAIL: pkg.A.test2\nFAIL: pkg.B.test3\nFAIL: pkg.A.test1\n--- FAIL: TestBare (0.01s)"
		report := TestFailures(log)

		require.Len(t, report.FailedTests, 4)
		assert.Equal(t, "pkg.A", report.FailedTests[0].Package)
		assert.Equal(t, "pkg.B", report.FailedTests[2].Package)
		assert.Equal(t, "TestBare", report.FailedTests[3].Name)
		assert.Equal(t, "unknown", report.FailedTests[3].Package)
	})

	t.Run("clean log", func(t *testing.T) {
		report := TestFailures("BUILD SUCCESSFUL in 3s")
		assert.Empty(t, report.FailedTests)
		assert.Zero(t, report.FailureCount)
	})
}

func TestBuildTiming(t *testing.T) {
	log := `[compile] javac sources [12.5s]
[test] surefire run [95.0s]
[package] jar [61.2s]
BUILD SUCCESSFUL in 170.3s
[INFO] Total time: 42.5 s`

	timing := BuildTiming(log)

	assert.InDelta(t, 170.3, timing.TotalSeconds, 0.001)
	assert.Len(t, timing.PhaseTimes, 3)
	assert.InDelta(t, 12.5, timing.PhaseTimes["javac sources"], 0.001)
	require.Len(t, timing.SlowPhases, 2)
	assert.Equal(t, "surefire run", timing.SlowPhases[0].Name)
	assert.Equal(t, "jar", timing.SlowPhases[1].Name)

	empty := BuildTiming("nothing timed here")
	assert.Zero(t, empty.TotalSeconds)
	assert.Empty(t, empty.SlowPhases)
}

func TestDependencyIssues(t *testing.T) {
	log := `[ERROR] Failed to execute goal on project app: Could not resolve dependencies for project com.example:app:jar:1.0: Failed to collect dependencies for [com.example:lib:jar:2.0 (compile)]
Could not find artifact com.example:missing:jar:1.2 in central (https://repo.maven.apache.org/maven2)
npm ERR! Unable to find version 9.9.9 for package left-pad`

	issues := DependencyIssues(log)

	require.Len(t, issues, 3)
	assert.Equal(t, "com.example:app:jar:1.0", issues[0].Artifact)
	assert.Equal(t, "com.example:missing:jar:1.2", issues[1].Artifact)
	assert.Equal(t, "9.9.9", issues[2].Artifact)
	assert.Empty(t, DependencyIssues("all dependencies resolved"))
}

func TestCompilationIssues(t *testing.T) {
	log := `src/main/java/App.java:[12,8] error: cannot find symbol
app/models.py:33: SyntaxError: invalid syntax
web/src/index.ts:4:10: error TS2304: Cannot find name 'foo'.`

	issues := CompilationIssues(log)

	require.Len(t, issues, 3)
	assert.Equal(t, CompilationIssue{File: "src/main/java/App.java", Line: 12, Column: 8, Message: "cannot find symbol"}, issues[0])
	assert.Equal(t, "app/models.py", issues[1].File)
	assert.Equal(t, 33, issues[1].Line)
	assert.Equal(t, "TS2304", issues[2].Code)
	assert.Equal(t, 10, issues[2].Column)
}

func TestErrorLines(t *testing.T) {
	log := "step 1\nstep 2\nstep 3\nstep 4\nstep 5\nstep 6\nERROR: disk full\nstep 8\nstep 9"

	found := ErrorLines(log)

	require.Len(t, found, 1)
	assert.Equal(t, 7, found[0].LineNumber)
	assert.Equal(t, "ERROR: disk full", found[0].Line)
	assert.Equal(t, "step 2\nstep 3\nstep 4\nstep 5\nstep 6\nERROR: disk full\nstep 8\nstep 9", found[0].Context)
	assert.Nil(t, ErrorLines(""))
}
