package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/woxQAQ/diffeq-wasm/internal/app"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// header names the time column, then y0..yn, then dy0..dyn when
// sensitivities were computed.
func header(res *app.Result) []string {
	cols := []string{"t"}
	for i := 0; i < res.NumberOfOutputs; i++ {
		cols = append(cols, fmt.Sprintf("y%d", i))
	}
	if res.DOutputs != nil {
		for i := 0; i < res.NumberOfOutputs; i++ {
			cols = append(cols, fmt.Sprintf("dy%d", i))
		}
	}
	return cols
}

func rows(res *app.Result) [][]string {
	out := make([][]string, len(res.Times))
	for i, t := range res.Times {
		row := []string{formatFloat(t)}
		for _, y := range res.Row(i) {
			row = append(row, formatFloat(y))
		}
		for _, dy := range res.SensitivityRow(i) {
			row = append(row, formatFloat(dy))
		}
		out[i] = row
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 8, 64)
}

// writeCSV writes the trajectory with a header line.
func writeCSV(w io.Writer, res *app.Result) error {
	if err := res.Validate(); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header(res)); err != nil {
		return err
	}
	if err := cw.WriteAll(rows(res)); err != nil {
		return err
	}
	return cw.Error()
}

// writeTable renders the trajectory for a terminal.
func writeTable(w io.Writer, res *app.Result) error {
	if err := res.Validate(); err != nil {
		return err
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(header(res)...).
		Rows(rows(res)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render(res.Model), t.Render())
	return err
}
