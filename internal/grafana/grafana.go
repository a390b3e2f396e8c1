// Package grafana renders a Grafana dashboard over the exported telemetry table.
package grafana

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"teleop-dash/internal/sink"
)

// OutputFile is the name of the rendered dashboard inside the output directory.
const OutputFile = "teleop-dashboard.json"

// DatasourceEnv names the environment variable holding the GreptimeDB
// datasource UID.
const DatasourceEnv = "GREPTIMEDB_DATASOURCE_UID"

//go:embed templates/teleop-dashboard.json.tmpl
var templates embed.FS

// Panel is one time-series or table panel.
type Panel struct {
	ID    int
	Title string
	Type  string
	Unit  string
	SQL   string
	X, Y  int
	W, H  int
}

// groups maps a column name or vector prefix to a panel title and unit.
var groups = []struct {
	prefix string
	title  string
	unit   string
}{
	{"battery", "Battery", "percent"},
	{"linear_speed", "Speed", "velocityms"},
	{"angular_speed", "Speed", "velocityms"},
	{"gripper_opening", "Gripper opening", "lengthmm"},
	{"angle", "Drive controls", "none"},
	{"accel", "Drive controls", "none"},
	{"brake", "Drive controls", "none"},
	{"joint", "Joint angles", "degree"},
	{"master_joint", "Master joint angles", "degree"},
	{"cartesian", "Cartesian position", "none"},
	{"force", "Force sensor", "none"},
}

// Panels builds the dashboard panels for table from the exported columns.
// Numeric columns are grouped into time series; string columns share a
// status table.
func Panels(table string) []Panel {
	type group struct {
		title, unit string
		cols        []string
	}
	var order []string
	byTitle := map[string]*group{}
	var status []string
	for _, c := range sink.Columns() {
		if !c.Numeric {
			status = append(status, c.Name)
			continue
		}
		title, unit := c.Name, "none"
		base := vectorPrefix(c.Name)
		for _, g := range groups {
			if g.prefix == base {
				title, unit = g.title, g.unit
				break
			}
		}
		gr, ok := byTitle[title]
		if !ok {
			gr = &group{title: title, unit: unit}
			byTitle[title] = gr
			order = append(order, title)
		}
		gr.cols = append(gr.cols, c.Name)
	}

	panels := make([]Panel, 0, len(order)+1)
	const w, h = 12, 8
	for i, title := range order {
		gr := byTitle[title]
		panels = append(panels, Panel{
			ID:    i + 1,
			Title: gr.title,
			Type:  "timeseries",
			Unit:  gr.unit,
			SQL:   fmt.Sprintf("SELECT ts AS \"time\", %s FROM %s WHERE $__timeFilter(ts) ORDER BY ts", strings.Join(gr.cols, ", "), table),
			X:     (i % 2) * w,
			Y:     (i / 2) * h,
			W:     w,
			H:     h,
		})
	}
	if len(status) > 0 {
		panels = append(panels, Panel{
			ID:    len(panels) + 1,
			Title: "Robot status",
			Type:  "table",
			Unit:  "none",
			SQL:   fmt.Sprintf("SELECT ts AS \"time\", session_id, %s FROM %s WHERE $__timeFilter(ts) ORDER BY ts DESC LIMIT 50", strings.Join(status, ", "), table),
			X:     0,
			Y:     ((len(order) + 1) / 2) * h,
			W:     2 * w,
			H:     h,
		})
	}
	return panels
}

// vectorPrefix strips a trailing _N index from flattened vector columns.
func vectorPrefix(name string) string {
	i := strings.LastIndex(name, "_")
	if i < 0 || i == len(name)-1 {
		return name
	}
	for _, r := range name[i+1:] {
		if r < '0' || r > '9' {
			return name
		}
	}
	return name[:i]
}

// Render writes the dashboard for table to outDir. The datasource UID is
// read from GREPTIMEDB_DATASOURCE_UID.
func Render(outDir, table string) error {
	if table == "" {
		table = sink.DefaultGreptimeTable
	}
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"last": func(i, n int) bool { return i == n-1 },
	}
	t, err := template.New("teleop-dashboard.json.tmpl").Funcs(funcMap).ParseFS(templates, "templates/teleop-dashboard.json.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	outPath := filepath.Join(outDir, OutputFile)
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	data := struct {
		Table  string
		Panels []Panel
	}{Table: table, Panels: Panels(table)}
	if err := t.Execute(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
