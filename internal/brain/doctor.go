package brain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DoctorReport is the result of an integrity scan over the brain log.
// Unlike ReadBrain it records which lines are damaged, for display.
type DoctorReport struct {
	Path          string   `json:"path"`
	Total         int      `json:"total"`
	BadLines      int      `json:"badLines"`
	TruncatedTail bool     `json:"truncatedTail"`
	Examples      []string `json:"examples,omitempty"` // first few offending lines
}

// Doctor scans the log line by line and reports damage without failing.
// Counting matches ReadBrain exactly; the report adds line numbers and
// parse errors for the first few offenders.
func Doctor(path string) DoctorReport {
	report := DoctorReport{Path: path}

	data, err := os.ReadFile(path) // #nosec G304
	if os.IsNotExist(err) {
		return report
	}
	if err != nil {
		report.Examples = append(report.Examples, err.Error())
		return report
	}

	lineNo := 0
	for len(data) > 0 {
		nl := -1
		for i, b := range data {
			if b == '\n' {
				nl = i
				break
			}
		}
		if nl < 0 {
			if len(strings.TrimSpace(string(data))) > 0 {
				report.TruncatedTail = true
			}
			break
		}
		lineNo++
		line := strings.TrimSpace(strings.TrimRight(string(data[:nl]), "\r"))
		data = data[nl+1:]
		if line == "" {
			continue
		}

		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			report.BadLines++
			if len(report.Examples) < 5 {
				report.Examples = append(report.Examples, fmt.Sprintf("line %d: %v", lineNo, err))
			}
			continue
		}
		if e.ID == "" {
			report.BadLines++
			if len(report.Examples) < 5 {
				report.Examples = append(report.Examples, fmt.Sprintf("line %d: missing id", lineNo))
			}
			continue
		}
		report.Total++
	}
	return report
}
