// Package junit parses JUnit XML build artifacts into failed test cases.
package junit

import (
	"encoding/xml"
	"fmt"
	"strings"

	"remedy-agent/src/contracts"
)

// TestSuites is the root element for multiple test suites.
type TestSuites struct {
	XMLName    xml.Name    `xml:"testsuites"`
	TestSuites []TestSuite `xml:"testsuite"`
}

// TestSuite represents a <testsuite> element.
type TestSuite struct {
	Name      string     `xml:"name,attr"`
	Tests     int        `xml:"tests,attr"`
	Failures  int        `xml:"failures,attr"`
	Errors    int        `xml:"errors,attr"`
	Skipped   int        `xml:"skipped,attr"`
	Time      float64    `xml:"time,attr"`
	TestCases []TestCase `xml:"testcase"`
}

// TestCase represents a <testcase> element.
type TestCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	Time      float64  `xml:"time,attr"`
	Failure   *Failure `xml:"failure"`
	Error     *Error   `xml:"error"`
	Skipped   *Skipped `xml:"skipped"`
}

// Failure represents a test failure.
type Failure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// Error represents a test error.
type Error struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// Skipped represents a skipped test.
type Skipped struct {
	Message string `xml:"message,attr"`
}

// TestFailure is one failed or errored test case.
type TestFailure struct {
	TestName   string
	ClassName  string
	SuiteName  string
	Message    string
	Type       string // "failure" or "error"
	StackTrace string
	Duration   float64
}

// Parse parses JUnit XML data and returns only test failures and errors.
// Returns an empty slice if all tests passed.
func Parse(data []byte) ([]TestFailure, error) {
	// Try parsing as <testsuites> (multiple suites) first
	var suites TestSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.TestSuites) > 0 {
		return extractFailures(suites.TestSuites), nil
	}

	// Try parsing as single <testsuite>
	var suite TestSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
	}

	return extractFailures([]TestSuite{suite}), nil
}

// extractFailures extracts failures and errors from test suites.
func extractFailures(suites []TestSuite) []TestFailure {
	var failures []TestFailure

	for _, suite := range suites {
		for _, testCase := range suite.TestCases {
			// Check for failure
			if testCase.Failure != nil {
				failures = append(failures, TestFailure{
					TestName:   testCase.Name,
					ClassName:  testCase.ClassName,
					SuiteName:  suite.Name,
					Message:    testCase.Failure.Message,
					Type:       "failure",
					StackTrace: strings.TrimSpace(testCase.Failure.Content),
					Duration:   testCase.Time,
				})
			}

			// Check for error
			if testCase.Error != nil {
				failures = append(failures, TestFailure{
					TestName:   testCase.Name,
					ClassName:  testCase.ClassName,
					SuiteName:  suite.Name,
					Message:    testCase.Error.Message,
					Type:       "error",
					StackTrace: strings.TrimSpace(testCase.Error.Content),
					Duration:   testCase.Time,
				})
			}
		}
	}

	return failures
}

// Package returns the package of the failing test, derived from its class name.
func (tf *TestFailure) Package() string {
	if tf.ClassName == "" {
		return "unknown"
	}
	return contracts.TestPackage(tf.ClassName)
}

// ToContract converts the failure into the shared model. The name is the
// fully qualified test so package grouping matches console-scraped failures.
func (tf *TestFailure) ToContract() contracts.TestFailure {
	name := tf.TestName
	if tf.ClassName != "" {
		name = tf.ClassName + "." + tf.TestName
	}
	msg := tf.Message
	if msg == "" {
		msg = firstLine(tf.StackTrace)
	}
	return contracts.TestFailure{
		Name:    name,
		Package: tf.Package(),
		Message: msg,
	}
}

// Failures parses a JUnit report into shared-model failures.
func Failures(data []byte) ([]contracts.TestFailure, error) {
	parsed, err := Parse(data)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.TestFailure, 0, len(parsed))
	for i := range parsed {
		out = append(out, parsed[i].ToContract())
	}
	return out, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
