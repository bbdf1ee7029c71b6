package report

import (
	"encoding/xml"
	"fmt"
	"time"
)

const suiteName = "git-mirror"

// TestCase is the per-repository input of the junit report.
type TestCase struct {
	Name     string
	Duration time.Duration
	Failed   bool
	Failure  string // captured diagnostic
	Skipped  bool
	Detail   string // eg "would clone" for dry-run skips
}

type junitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	TestCases []junitTestCase `xml:"testcase"`
	SystemErr string          `xml:"system-err,omitempty"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// WriteJUnit writes one suite with one testcase entry per repository, so
// an external CI system can surface individual mirror failures the same
// way it surfaces unit-test failures. The suite time is the sum of the per
// repository durations.
func WriteJUnit(path string, cases []TestCase) error {
	suite := junitTestSuite{
		Name:  suiteName,
		Tests: len(cases),
	}

	var total time.Duration
	for _, tc := range cases {
		total += tc.Duration

		jtc := junitTestCase{
			Name:      tc.Name,
			ClassName: suiteName,
			Time:      formatSeconds(tc.Duration),
		}
		switch {
		case tc.Failed:
			suite.Failures++
			jtc.Failure = &junitFailure{
				Message: "sync failed",
				Content: tc.Failure,
			}
		case tc.Skipped:
			suite.Skipped++
			jtc.Skipped = &junitSkipped{Message: tc.Detail}
		}
		suite.TestCases = append(suite.TestCases, jtc)
	}
	suite.Time = formatSeconds(total)

	return writeJUnitDoc(path, suite)
}

// WriteJUnitListingFailure writes a report for a run which failed before
// anything was dispatched, zero testcases and a top-level failure note, so
// downstream tooling sees an explicit signal rather than a missing file.
func WriteJUnitListingFailure(path string, listErr error) error {
	suite := junitTestSuite{
		Name:      suiteName,
		Errors:    1,
		Time:      formatSeconds(0),
		SystemErr: listErr.Error(),
	}
	return writeJUnitDoc(path, suite)
}

func writeJUnitDoc(path string, suite junitTestSuite) error {
	data, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal junit report err:%w", err)
	}
	doc := append([]byte(xml.Header), data...)
	doc = append(doc, '\n')
	return atomicWrite(path, doc)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
