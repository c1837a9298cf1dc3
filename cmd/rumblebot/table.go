package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"rumblebot/internal/domain"
	"rumblebot/internal/history"
)

func historyTable(records []history.Record) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"When", "Status", "Title", "Channel", "Size", "Took", "Link / reason"})

	for _, r := range records {
		outcome := r.URL
		if r.Status != domain.StatusSuccess {
			outcome = r.Reason
		}
		size := ""
		if r.Size > 0 {
			size = humanize.IBytes(uint64(r.Size))
		}
		tw.AppendRow(table.Row{
			humanize.Time(r.CreatedAt),
			string(r.Status),
			r.Title,
			r.Channel,
			size,
			r.Duration.Round(time.Second).String(),
			outcome,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 40},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 6, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 7, WidthMax: 60},
	})
	return tw.Render()
}
