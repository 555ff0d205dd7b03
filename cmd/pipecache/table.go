package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/gogpu/pipecache"
)

var (
	readyColor    = color.New(color.FgHiGreen, color.Bold)
	failedColor   = color.New(color.FgHiRed, color.Bold)
	creatingColor = color.New(color.FgHiYellow)
	queuedColor   = color.New(color.FgHiBlack)
)

// stateCell returns the colored state name and a detail column.
func stateCell(s pipecache.State) (string, string) {
	switch s := s.(type) {
	case pipecache.Ready:
		return readyColor.Sprint(s), ""
	case pipecache.Failed:
		detail := s.Err.Kind.String()
		if s.Err.Diagnostic != "" {
			detail += ": " + s.Err.Diagnostic
		}
		return failedColor.Sprint(s), detail
	case pipecache.Creating:
		return creatingColor.Sprint(s), ""
	default:
		return queuedColor.Sprint(s), ""
	}
}

// printTable writes one row per manifest pipeline followed by a summary.
func printTable(w io.Writer, c *pipecache.PipelineCache, pipelines []queued) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Pipeline", "Kind", "Shader", "State", "Detail")
	for i, q := range pipelines {
		state, detail := stateCell(q.state(c))
		if err := table.Append([]string{fmt.Sprint(i), q.spec.Name, q.spec.Kind, q.spec.Shader, state, detail}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	s := c.Stats()
	_, err := fmt.Fprintf(w, "ready %d, creating %d, queued %d, failed %d; shader modules %d hit / %d miss\n",
		s.Ready, s.Creating, s.Queued, s.Failed, s.ShaderModuleHits, s.ShaderModuleMisses)
	return err
}
