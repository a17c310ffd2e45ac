package verifier

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Tests   int              `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors  int              `xml:"errors,attr"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string        `xml:"name,attr"`
	Time    float64       `xml:"time,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
	Error   *junitFailure `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// WriteJUnit writes the run as a JUnit XML report, one test suite per
// consumer.
func (e ExecutionResult) WriteJUnit(path string) error {
	suitesByConsumer := map[string]*junitTestSuite{}
	var order []string
	for _, r := range e.Results {
		name := r.Consumer + " - " + r.Provider
		suite, ok := suitesByConsumer[name]
		if !ok {
			suite = &junitTestSuite{Name: name}
			suitesByConsumer[name] = suite
			order = append(order, name)
		}
		testCase := junitTestCase{
			Name: r.InteractionDescription,
			Time: r.Elapsed.Seconds(),
		}
		suite.Tests++
		switch r.Outcome {
		case Failed:
			if !r.Pending {
				suite.Failures++
				testCase.Failure = &junitFailure{
					Message: fmt.Sprintf("%d mismatches", len(r.Mismatches)),
					Text:    mismatchText(r),
				}
			}
		case Errored:
			if !r.Pending {
				suite.Errors++
				testCase.Error = &junitFailure{Message: r.Error}
			}
		}
		suite.Cases = append(suite.Cases, testCase)
	}

	doc := junitTestSuites{}
	for _, name := range order {
		suite := suitesByConsumer[name]
		doc.Tests += suite.Tests
		doc.Failures += suite.Failures
		doc.Errors += suite.Errors
		doc.Suites = append(doc.Suites, *suite)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode the JUnit report")
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "unable to write the JUnit report to %s", path)
	}
	return nil
}

func mismatchText(r VerificationResult) string {
	var lines []string
	for _, m := range r.Mismatches {
		lines = append(lines, m.Description)
	}
	return strings.Join(lines, "\n")
}
