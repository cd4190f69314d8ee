package surface

import (
	"encoding/json"
	"io"

	"github.com/callscope/callscope/pkg/analysis"
)

// JSONRenderer writes the raw result plus its derived summary as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(w io.Writer, result *analysis.Result, opts Options) error {
	summary, err := Summarize(result, opts)
	if err != nil {
		return err
	}
	out := struct {
		*analysis.Result
		Summary *Summary `json:"summary"`
	}{result, summary}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
