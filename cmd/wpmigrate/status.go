package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tigerroll/wpmigrate/internal/control"
	"github.com/tigerroll/wpmigrate/internal/importer"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func renderStatus(s control.Status) string {
	st := s.State
	mode := "live"
	if s.Settings.DryRun {
		mode = "dry run"
	}
	overview := [][]string{
		{"Running", strconv.FormatBool(st.Running)},
		{"Stop requested", strconv.FormatBool(st.StopRequested)},
		{"Mode", mode},
		{"Post types", strings.Join(importer.ActivePostTypes(s.Settings, st), ", ")},
		{"Last run", humanTime(st.LastRunAt)},
		{"Next run", humanTime(st.NextRunAt)},
		{"Mappings", humanize.Comma(s.MappingCount)},
	}
	if st.LastError != "" {
		overview = append(overview, []string{"Last error", st.LastError})
	}

	stats := st.Stats
	counters := [][]string{
		{"Posts imported", humanize.Comma(int64(stats.PostsImported))},
		{"Posts updated", humanize.Comma(int64(stats.PostsUpdated))},
		{"Posts skipped", humanize.Comma(int64(stats.PostsSkipped))},
		{"Attachments imported", humanize.Comma(int64(stats.AttachmentsImported))},
		{"Attachments skipped", humanize.Comma(int64(stats.AttachmentsSkipped))},
		{"Errors", humanize.Comma(int64(stats.Errors))},
	}

	var cursors [][]string
	for _, postType := range sortedKeys(st.Cursor) {
		cursors = append(cursors, []string{postType, strconv.FormatUint(st.Cursor[postType], 10)})
	}

	var plugins [][]string
	for _, flag := range sortedKeys(st.PluginImports) {
		plugins = append(plugins, []string{flag, humanTime(st.PluginImports[flag])})
	}

	var b strings.Builder
	b.WriteString(renderTable([]string{"Migration", ""}, overview, nil))
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"Counter", "Total"}, counters, []columnAlignment{alignLeft, alignRight}))
	if len(cursors) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Post type", "Last source id"}, cursors, []columnAlignment{alignLeft, alignRight}))
	}
	if len(plugins) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Plugin options", "Imported"}, plugins, nil))
	}
	return b.String()
}

func humanTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", humanize.Time(*t), t.Local().Format(time.DateTime))
}
