package verifier

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// Reporter prints the grouped per-pact, per-interaction summary.
type Reporter struct {
	Out      io.Writer
	NoColour bool
}

// NewReporter builds a reporter for stdout; colours are suppressed when
// requested or when stdout is not a terminal.
func NewReporter(noColour bool) *Reporter {
	if !noColour && !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		noColour = true
	}
	return &Reporter{Out: os.Stdout, NoColour: noColour}
}

func (r *Reporter) paint(colour, s string) string {
	if r.NoColour {
		return s
	}
	return colour + s + ansiReset
}

// Report prints the summary of a run.
func (r *Reporter) Report(result ExecutionResult) {
	currentPact := ""
	for _, res := range result.Results {
		pact := fmt.Sprintf("%s has a pact with %s", res.Consumer, res.Provider)
		if pact != currentPact {
			fmt.Fprintf(r.Out, "\nVerifying a pact between %s and %s\n", res.Consumer, res.Provider)
			currentPact = pact
		}
		switch {
		case res.Ok():
			fmt.Fprintf(r.Out, "  %s %s (%s)\n", r.paint(ansiGreen, "OK"), res.InteractionDescription, res.Elapsed)
		case res.Pending:
			fmt.Fprintf(r.Out, "  %s %s [pending]\n", r.paint(ansiYellow, "FAILED"), res.InteractionDescription)
			r.reportFailure(res)
		default:
			fmt.Fprintf(r.Out, "  %s %s\n", r.paint(ansiRed, "FAILED"), res.InteractionDescription)
			r.reportFailure(res)
		}
	}

	for _, line := range result.Output {
		fmt.Fprintf(r.Out, "%s\n", line)
	}

	fmt.Fprintln(r.Out)
	if result.Passed() {
		fmt.Fprintf(r.Out, "%s\n", r.paint(ansiGreen, "Verification passed"))
	} else {
		fmt.Fprintf(r.Out, "%s\n", r.paint(ansiRed, "Verification failed"))
	}
}

func (r *Reporter) reportFailure(res VerificationResult) {
	if res.Outcome == Errored {
		fmt.Fprintf(r.Out, "      %s\n", r.paint(ansiRed, res.Error))
		return
	}
	for _, m := range res.Mismatches {
		location := m.Path
		if m.Parameter != "" {
			location = m.Parameter
		}
		fmt.Fprintf(r.Out, "      %s: %s\n", location, r.paint(ansiRed, m.Description))
	}
}
