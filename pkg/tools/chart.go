package tools

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
)

// Graph types accepted by create_graph.
const (
	GraphBar  = "bar"
	GraphLine = "line"
)

const (
	graphWidth  = 1000
	graphHeight = 600
)

var (
	labelColumnNames = []string{"label", "name", "category", "month"}
	valueColumnNames = []string{"value", "amount", "count", "price"}
)

// GraphRequest is the create_graph argument set. Data is a list of flat
// JSON objects; key order of the first object fixes the column order.
type GraphRequest struct {
	Data      []json.RawMessage `json:"data"`
	GraphType string            `json:"graph_type"`
	Title     string            `json:"title"`
	XLabel    string            `json:"x_label"`
	YLabel    string            `json:"y_label"`
}

type graphPoint struct {
	label string
	value float64
}

// RenderGraph draws the data as a PNG and returns it base64 encoded.
func RenderGraph(req GraphRequest) (string, error) {
	if req.GraphType != GraphBar && req.GraphType != GraphLine {
		return "", fmt.Errorf("unsupported graph type %q (supported: bar, line)", req.GraphType)
	}
	if req.Title == "" {
		req.Title = "Graph"
	}
	if req.XLabel == "" {
		req.XLabel = "X-axis"
	}
	if req.YLabel == "" {
		req.YLabel = "Y-axis"
	}

	points, err := graphPoints(req.Data)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	switch req.GraphType {
	case GraphBar:
		err = renderBar(&buf, req, points)
	case GraphLine:
		err = renderLine(&buf, req, points)
	}
	if err != nil {
		return "", fmt.Errorf("error creating graph: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func renderBar(buf *bytes.Buffer, req GraphRequest, points []graphPoint) error {
	bars := make([]chart.Value, len(points))
	for i, p := range points {
		bars[i] = chart.Value{Label: p.label, Value: p.value}
	}
	graph := chart.BarChart{
		Title:      req.Title,
		Width:      graphWidth,
		Height:     graphHeight,
		Background: chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		YAxis:      chart.YAxis{Name: req.YLabel},
		Bars:       bars,
	}
	return graph.Render(chart.PNG, buf)
}

func renderLine(buf *bytes.Buffer, req GraphRequest, points []graphPoint) error {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	ticks := make([]chart.Tick, len(points))
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = p.value
		ticks[i] = chart.Tick{Value: float64(i), Label: p.label}
	}
	graph := chart.Chart{
		Title:      req.Title,
		Width:      graphWidth,
		Height:     graphHeight,
		Background: chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		XAxis:      chart.XAxis{Name: req.XLabel, Ticks: ticks},
		YAxis:      chart.YAxis{Name: req.YLabel},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    req.YLabel,
				XValues: xs,
				YValues: ys,
				Style:   chart.Style{StrokeWidth: 2, DotWidth: 4},
			},
		},
	}
	return graph.Render(chart.PNG, buf)
}

// graphPoints picks the label and value columns and extracts one point per row.
func graphPoints(data []json.RawMessage) ([]graphPoint, error) {
	if len(data) == 0 {
		return nil, errors.New("data is empty")
	}

	columns, err := objectKeys(data[0])
	if err != nil {
		return nil, errors.New("invalid data format: expected a list of objects")
	}
	if len(columns) < 2 {
		return nil, errors.New("data must have at least 2 columns")
	}

	rows := make([]map[string]any, len(data))
	for i, raw := range data {
		if err := json.Unmarshal(raw, &rows[i]); err != nil || rows[i] == nil {
			return nil, errors.New("invalid data format: expected a list of objects")
		}
	}

	xCol := pickLabelColumn(columns, rows[0])
	yCol := pickValueColumn(columns, rows[0], xCol)
	if yCol == "" {
		return nil, errors.New("data must have a numeric column to plot")
	}

	points := make([]graphPoint, 0, len(rows))
	for _, row := range rows {
		v, ok := row[yCol].(float64)
		if !ok {
			continue
		}
		points = append(points, graphPoint{label: fmt.Sprint(row[xCol]), value: v})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", yCol)
	}
	return points, nil
}

func pickLabelColumn(columns []string, row map[string]any) string {
	for _, c := range columns {
		if slices.Contains(labelColumnNames, strings.ToLower(c)) {
			return c
		}
	}
	for _, c := range columns {
		if _, ok := row[c].(string); ok {
			return c
		}
	}
	return columns[0]
}

func pickValueColumn(columns []string, row map[string]any, xCol string) string {
	var firstNumeric string
	for _, c := range columns {
		if c == xCol {
			continue
		}
		if _, ok := row[c].(float64); !ok {
			continue
		}
		if slices.Contains(valueColumnNames, strings.ToLower(c)) {
			return c
		}
		if firstNumeric == "" {
			firstNumeric = c
		}
	}
	return firstNumeric
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not an object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("invalid object key")
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
