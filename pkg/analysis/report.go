package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Report wraps a Result with the metadata needed to find it again.
type Report struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository,omitempty"`
	BaseRef    string    `json:"base_ref,omitempty"`
	HeadRef    string    `json:"head_ref,omitempty"`
	BaseSHA    string    `json:"base_sha,omitempty"`
	HeadSHA    string    `json:"head_sha,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	Result     *Result   `json:"result"`
}

// ReportID derives a stable id from the compared commits.
func ReportID(baseSHA, headSHA string) string {
	if headSHA == "" {
		headSHA = "worktree"
	}
	return short(baseSHA) + "_" + short(headSHA)
}

func short(sha string) string {
	return sha[:min(8, len(sha))]
}

// SaveReport writes r to dir/<id>.json and returns the path.
func SaveReport(dir string, r *Report) (string, error) {
	if r.ID == "" {
		return "", fmt.Errorf("report has no id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}

	path := filepath.Join(dir, r.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// LoadReport reads a report written by SaveReport.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	return DecodeReport(data)
}

// DecodeReport parses a JSON report.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling report: %w", err)
	}
	if r.Result == nil || r.Result.CallGraph == nil {
		return nil, fmt.Errorf("report %q has no call graph", r.ID)
	}
	return &r, nil
}

// ReportSummary is the listing view of a saved report.
type ReportSummary struct {
	ID               string    `json:"id"`
	BaseRef          string    `json:"base_ref,omitempty"`
	HeadRef          string    `json:"head_ref,omitempty"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
	ChangedFiles     int       `json:"changed_files"`
	ChangedFunctions int       `json:"changed_functions"`
}

// ListReports returns the reports saved in dir, newest first. Unreadable
// files are skipped.
func ListReports(dir string) ([]ReportSummary, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading report directory: %w", err)
	}

	var out []ReportSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		r, err := LoadReport(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, ReportSummary{
			ID:               r.ID,
			BaseRef:          r.BaseRef,
			HeadRef:          r.HeadRef,
			AnalyzedAt:       r.AnalyzedAt,
			ChangedFiles:     len(r.Result.ChangedFiles),
			ChangedFunctions: r.Result.ChangedFunctions.Count(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AnalyzedAt.After(out[j].AnalyzedAt)
	})
	return out, nil
}
