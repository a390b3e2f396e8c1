package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"teleop-dash/internal/telemetry"
)

// DefaultGreptimeTable is the table telemetry is written to when none is configured.
const DefaultGreptimeTable = "teleop_telemetry"

const defaultGreptimePort = 4001

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

type column struct {
	name  string
	typ   types.ColumnType
	value func(telemetry.Record) any
}

// telemetryColumns lists the field columns in insertion order. Six-element
// readings are flattened into name_1..name_6.
var telemetryColumns = buildColumns()

func buildColumns() []column {
	num := func(name string, get func(telemetry.ViewModel) float64) column {
		return column{name, types.FLOAT64, func(r telemetry.Record) any { return get(r.View) }}
	}
	str := func(name string, get func(telemetry.ViewModel) string) column {
		return column{name, types.STRING, func(r telemetry.Record) any { return get(r.View) }}
	}
	vec := func(prefix string, get func(telemetry.ViewModel) telemetry.Vec6) []column {
		out := make([]column, 0, telemetry.VectorLen)
		for i := 0; i < telemetry.VectorLen; i++ {
			i := i
			out = append(out, column{
				name:  prefix + "_" + strconv.Itoa(i+1),
				typ:   types.FLOAT64,
				value: func(r telemetry.Record) any { return get(r.View)[i] },
			})
		}
		return out
	}

	cols := []column{
		str("robot_status", func(v telemetry.ViewModel) string { return v.RobotStatus }),
		num("battery", func(v telemetry.ViewModel) float64 { return v.Battery }),
		num("linear_speed", func(v telemetry.ViewModel) float64 { return v.LinearSpeed }),
		num("angular_speed", func(v telemetry.ViewModel) float64 { return v.AngularSpeed }),
		num("gripper_opening", func(v telemetry.ViewModel) float64 { return v.GripperOpening }),
		num("angle", func(v telemetry.ViewModel) float64 { return v.Angle }),
		num("accel", func(v telemetry.ViewModel) float64 { return v.Accel }),
		num("brake", func(v telemetry.ViewModel) float64 { return v.Brake }),
		str("gear_status", func(v telemetry.ViewModel) string { return v.GearStatus }),
	}
	cols = append(cols, vec("joint", func(v telemetry.ViewModel) telemetry.Vec6 { return v.JointAngles })...)
	cols = append(cols, vec("master_joint", func(v telemetry.ViewModel) telemetry.Vec6 { return v.MasterJointAngles })...)
	cols = append(cols, vec("cartesian", func(v telemetry.ViewModel) telemetry.Vec6 { return v.CartesianPosition })...)
	cols = append(cols, vec("force", func(v telemetry.ViewModel) telemetry.Vec6 { return v.ForceSensor })...)
	return cols
}

// Column describes one exported field column.
type Column struct {
	Name    string
	Numeric bool
}

// Columns returns the exported field columns in order.
func Columns() []Column {
	out := make([]Column, len(telemetryColumns))
	for i, c := range telemetryColumns {
		out[i] = Column{Name: c.name, Numeric: c.typ != types.STRING}
	}
	return out
}

// ColumnNames returns the exported field column names in order.
func ColumnNames() []string {
	out := make([]string, len(telemetryColumns))
	for i, c := range telemetryColumns {
		out[i] = c.name
	}
	return out
}

// GreptimeDBWriter writes telemetry records to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client  greptimeClient
	table   string
	timeout time.Duration
	log     *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
func NewGreptimeDBWriter(endpoint, database, tableName string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: invalid port: %w", endpoint, err)
		}
		host, port = h, n
	}
	if database == "" {
		database = "public"
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return newGreptimeDBWriter(client, tableName, log), nil
}

func newGreptimeDBWriter(client greptimeClient, tableName string, log *slog.Logger) *GreptimeDBWriter {
	if tableName == "" {
		tableName = DefaultGreptimeTable
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{client: client, table: tableName, timeout: 5 * time.Second, log: log}
}

// Table returns the destination table name.
func (w *GreptimeDBWriter) Table() string { return w.table }

// Write inserts a single record.
func (w *GreptimeDBWriter) Write(r telemetry.Record) error {
	return w.WriteBatch([]telemetry.Record{r})
}

// WriteBatch inserts multiple records.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.Record) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := w.newTable()
	if err != nil {
		return err
	}
	for _, r := range rows {
		values := make([]any, 0, len(telemetryColumns)+2)
		values = append(values, r.SessionID)
		for _, c := range telemetryColumns {
			values = append(values, c.value(r))
		}
		values = append(values, r.Timestamp)
		if err := tbl.AddRow(values...); err != nil {
			return fmt.Errorf("greptime row: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.log.Error("[GreptimeDBWriter] write failed", "table", w.table, "err", err)
		return err
	}
	w.log.Debug("[GreptimeDBWriter] wrote rows", "table", w.table, "rows", len(rows))
	return nil
}

func (w *GreptimeDBWriter) newTable() (*table.Table, error) {
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, fmt.Errorf("greptime table: %w", err)
	}
	if err := tbl.AddTagColumn("session_id", types.STRING); err != nil {
		return nil, err
	}
	for _, c := range telemetryColumns {
		if err := tbl.AddFieldColumn(c.name, c.typ); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}
	return tbl, nil
}
