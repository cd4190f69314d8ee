package surface

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/impact"
)

const (
	maxTextEntryPoints = 5
	maxTextTreeLines   = 40
)

// TextRenderer renders a result as terminal output. Colors are used only
// when the writer is a terminal and NO_COLOR is unset.
type TextRenderer struct {
	// ForceColor enables styling for non-terminal writers.
	ForceColor bool
}

var (
	colorCritical = lipgloss.Color("#E74C3C")
	colorHigh     = lipgloss.Color("#E67E22")
	colorMedium   = lipgloss.Color("#F4D03F")
	colorLow      = lipgloss.Color("#2CD7C7")
	colorMuted    = lipgloss.Color("#7F8C8D")
)

// palette is the set of styling functions for one render.
type palette struct {
	bold  func(string) string
	dim   func(string) string
	level func(impact.Level, string) string
}

func plainPalette() palette {
	id := func(s string) string { return s }
	return palette{
		bold:  id,
		dim:   id,
		level: func(_ impact.Level, s string) string { return s },
	}
}

func styledPalette(w io.Writer) palette {
	re := lipgloss.NewRenderer(w)
	bold := re.NewStyle().Bold(true)
	dim := re.NewStyle().Foreground(colorMuted)
	levels := map[impact.Level]lipgloss.Style{
		impact.LevelCritical: re.NewStyle().Bold(true).Foreground(colorCritical),
		impact.LevelHigh:     re.NewStyle().Foreground(colorHigh),
		impact.LevelMedium:   re.NewStyle().Foreground(colorMedium),
		impact.LevelLow:      re.NewStyle().Foreground(colorLow),
		impact.LevelNone:     dim,
	}
	return palette{
		bold: func(s string) string { return bold.Render(s) },
		dim:  func(s string) string { return dim.Render(s) },
		level: func(l impact.Level, s string) string {
			if st, ok := levels[l]; ok {
				return st.Render(s)
			}
			return s
		},
	}
}

func noColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *TextRenderer) palette(w io.Writer) palette {
	if noColor() || (!r.ForceColor && !isTerminal(w)) {
		return plainPalette()
	}
	return styledPalette(w)
}

func (r *TextRenderer) Render(w io.Writer, result *analysis.Result, opts Options) error {
	s, err := Summarize(result, opts)
	if err != nil {
		return err
	}
	p := r.palette(w)

	fmt.Fprintf(w, "%s\n\n", p.bold(headline(s)))
	fmt.Fprintf(w, "Changed files: %d / changed functions: %d\n\n", len(s.ChangedFiles), s.ChangedFunctions)

	if s.ChangedFunctions == 0 {
		fmt.Fprintln(w, "No changed lines fall inside a known function.")
		return nil
	}

	for i, g := range s.Groups {
		pr := g.Primary
		tag := p.level(pr.Level, fmt.Sprintf("[%s]", strings.ToUpper(string(pr.Level))))
		fmt.Fprintf(w, "%d. %s %s  %s\n", i+1, tag, p.bold(pr.Name), p.dim(fmt.Sprintf("%s:%d", pr.File, pr.Line)))
		fmt.Fprintf(w, "   score %d = %d callers + %d depth x %d\n",
			pr.Score.Score, pr.Score.Breadth, pr.Score.Depth, impact.DepthWeight)

		if len(g.Related) > 0 {
			related := make([]string, len(g.Related))
			for j, it := range g.Related {
				related[j] = displayID(it.ID)
			}
			for _, line := range wrapText("related: "+strings.Join(related, ", "), 70) {
				fmt.Fprintf(w, "   %s\n", p.dim(line))
			}
		}

		if len(g.EntryPoints) > 0 {
			fmt.Fprintln(w, "   entry points:")
			for j, ep := range g.EntryPoints {
				if j == maxTextEntryPoints {
					fmt.Fprintf(w, "     %s\n", p.dim(fmt.Sprintf("... and %d more", len(g.EntryPoints)-maxTextEntryPoints)))
					break
				}
				fmt.Fprintf(w, "     • %s %s\n", ep.Name, p.dim(fmt.Sprintf("%s:%d, depth %d", ep.File, ep.Line, ep.Depth)))
			}
		}

		if g.Tree != nil && len(g.Tree.Children) > 0 {
			var sb strings.Builder
			writeTreeLines(&sb, g.Tree, maxTextTreeLines)
			fmt.Fprintln(w, "   callers:")
			for _, line := range strings.Split(strings.TrimRight(sb.String(), "\n"), "\n") {
				fmt.Fprintf(w, "     %s\n", line)
			}
		}
		fmt.Fprintln(w)
	}

	if s.Hidden > 0 {
		fmt.Fprintf(w, "%s\n", p.dim(fmt.Sprintf("... and %d more groups (raise --top to see them)", s.Hidden)))
	}
	return nil
}

// wrapText wraps a string at the given width, returning lines.
func wrapText(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]

	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)
	return lines
}
