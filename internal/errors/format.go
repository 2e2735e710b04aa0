package errors

import (
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
// PipelineErrors render with their stage and code; everything else passes
// through unchanged.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	pe, ok := err.(*PipelineError)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", pe.Message))
	if pe.PMID != "" {
		sb.WriteString(fmt.Sprintf("  PMID:  %s\n", pe.PMID))
	}
	sb.WriteString(fmt.Sprintf("  Stage: %s\n", pe.Stage))
	sb.WriteString(fmt.Sprintf("  Code:  %s\n", pe.Code))

	return sb.String()
}
