package surface

import (
	"fmt"
	"io"
	"strings"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/impact"
)

const (
	maxMarkdownEntryPoints = 5
	maxMarkdownTreeLines   = 30
)

// MarkdownRenderer produces GitHub-flavored Markdown, used for pull request
// comments and check run summaries.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(w io.Writer, result *analysis.Result, opts Options) error {
	summary, err := Summarize(result, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, buildMarkdownSummary(summary))
	return err
}

// BuildCheckRunData creates the CheckRunData struct from a result.
func (r *MarkdownRenderer) BuildCheckRunData(result *analysis.Result, opts Options) (CheckRunData, error) {
	summary, err := Summarize(result, opts)
	if err != nil {
		return CheckRunData{}, err
	}
	return CheckRunData{
		Title:      headline(summary),
		Summary:    buildMarkdownSummary(summary),
		Conclusion: levelToConclusion(summary.MaxLevel),
	}, nil
}

func headline(s *Summary) string {
	if s.ChangedFunctions == 0 {
		return "callscope: no changed functions"
	}
	return fmt.Sprintf("callscope: %d changed functions, max impact %s",
		s.ChangedFunctions, strings.ToUpper(string(s.MaxLevel)))
}

func levelToConclusion(level impact.Level) string {
	switch level {
	case impact.LevelCritical:
		return "failure"
	case impact.LevelHigh:
		return "neutral"
	default:
		return "success"
	}
}

func buildMarkdownSummary(s *Summary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## %s\n\n", headline(s)))
	sb.WriteString(fmt.Sprintf("%d files changed.\n\n", len(s.ChangedFiles)))

	if s.ChangedFunctions == 0 {
		sb.WriteString("No changed lines fall inside a known function.\n")
		return sb.String()
	}

	sb.WriteString("| Level | Functions |\n|-------|-----------|\n")
	for _, lv := range impact.Levels {
		if n := s.LevelCounts[lv]; n > 0 {
			sb.WriteString(fmt.Sprintf("| %s %s | %d |\n", levelIcon(lv), lv, n))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("### Changed functions\n\n")
	sb.WriteString("| Function | File | Score | Callers | Depth | Level |\n")
	sb.WriteString("|----------|------|-------|---------|-------|-------|\n")
	for _, g := range s.Groups {
		p := g.Primary
		name := "`" + p.Name + "`"
		if len(g.Related) > 0 {
			name += fmt.Sprintf(" (+%d related: %s)", len(g.Related), strings.Join(relatedNames(g.Related), ", "))
		}
		sb.WriteString(fmt.Sprintf("| %s | `%s:%d` | %d | %d | %d | %s %s |\n",
			name, p.File, p.Line, p.Score.Score, p.Score.Breadth, p.Score.Depth, levelIcon(p.Level), p.Level))
	}
	if s.Hidden > 0 {
		sb.WriteString(fmt.Sprintf("\n_... and %d more groups_\n", s.Hidden))
	}
	sb.WriteString("\n")

	for _, g := range s.Groups {
		if len(g.EntryPoints) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("<details><summary><code>%s</code>: %d entry points</summary>\n\n",
			g.Primary.Name, len(g.EntryPoints)))
		for i, ep := range g.EntryPoints {
			if i == maxMarkdownEntryPoints {
				sb.WriteString(fmt.Sprintf("- _... and %d more_\n", len(g.EntryPoints)-maxMarkdownEntryPoints))
				break
			}
			sb.WriteString(fmt.Sprintf("- `%s` at `%s:%d` (depth %d)\n", ep.Name, ep.File, ep.Line, ep.Depth))
		}
		sb.WriteString("\n```\n")
		writeTreeLines(&sb, g.Tree, maxMarkdownTreeLines)
		sb.WriteString("```\n\n</details>\n\n")
	}

	return sb.String()
}

func levelIcon(level impact.Level) string {
	switch level {
	case impact.LevelCritical:
		return ":red_circle:"
	case impact.LevelHigh:
		return ":orange_circle:"
	case impact.LevelMedium:
		return ":yellow_circle:"
	case impact.LevelLow:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}

// writeTreeLines prints the tree as indented text, at most limit lines.
func writeTreeLines(sb *strings.Builder, root *impact.TreeNode, limit int) {
	written := 0
	var walk func(n *impact.TreeNode, indent int) bool
	walk = func(n *impact.TreeNode, indent int) bool {
		if written == limit {
			sb.WriteString(strings.Repeat("  ", indent) + "...\n")
			return false
		}
		sb.WriteString(strings.Repeat("  ", indent) + treeLabel(n) + "\n")
		written++
		for _, c := range n.Children {
			if !walk(c, indent+1) {
				return false
			}
		}
		return true
	}
	if root != nil {
		walk(root, 0)
	}
}

func treeLabel(n *impact.TreeNode) string {
	label := fmt.Sprintf("%s (%s:%d)", n.Name, n.File, n.Line)
	if len(n.Lines) > 1 {
		parts := make([]string, len(n.Lines))
		for i, l := range n.Lines {
			parts[i] = fmt.Sprint(l)
		}
		label = fmt.Sprintf("%s (%s:%s)", n.Name, n.File, strings.Join(parts, ","))
	}
	switch {
	case n.Circular:
		label += " [circular]"
	case n.Truncated:
		label += " [...]"
	}
	return label
}
