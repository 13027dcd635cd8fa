package output

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Column picks one value per row. Field is a dot separated path of JSON
// field names, e.g. "lastExitCode".
type Column struct {
	Field string
	Label string
}

// TableFormatter renders a slice (or a single value) as a borderless table.
// Without columns every top level JSON field becomes a column.
type TableFormatter struct {
	Columns []Column
	// Now is used for relative timestamps; zero means time.Now.
	Now func() time.Time
}

func (f *TableFormatter) Write(w io.Writer, data any) error {
	rows := reflect.ValueOf(data)
	for rows.Kind() == reflect.Ptr && !rows.IsNil() {
		rows = rows.Elem()
	}
	if rows.Kind() != reflect.Slice && rows.Kind() != reflect.Array {
		rows = reflect.ValueOf([]any{data})
	}
	if rows.Len() == 0 {
		_, err := fmt.Fprintln(w, "No items found")
		return err
	}

	columns := f.Columns
	if len(columns) == 0 {
		columns = defaultColumns(rows.Index(0))
	}
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.label()
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for i := 0; i < rows.Len(); i++ {
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = f.format(lookup(rows.Index(i), c.Field))
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func (c Column) label() string {
	if c.Label != "" {
		return c.Label
	}
	parts := strings.Split(c.Field, ".")
	return strings.ToUpper(parts[len(parts)-1])
}

func (f *TableFormatter) format(v reflect.Value) string {
	v = deref(v)
	if !v.IsValid() {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		now := time.Now()
		if f.Now != nil {
			now = f.Now()
		}
		if d := now.Sub(t); d >= 0 && d < 24*time.Hour {
			return relative(d)
		}
		return t.Local().Format("2006-01-02 15:04")
	}
	return fmt.Sprint(v.Interface())
}

func relative(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func defaultColumns(first reflect.Value) []Column {
	first = deref(first)
	if first.Kind() != reflect.Struct {
		return []Column{{Field: "", Label: "VALUE"}}
	}
	var cols []Column
	t := first.Type()
	for i := 0; i < t.NumField(); i++ {
		if name := jsonName(t.Field(i)); name != "" {
			cols = append(cols, Column{Field: name})
		}
	}
	return cols
}

// lookup walks a dot separated JSON path. An empty path is the value itself.
func lookup(v reflect.Value, path string) reflect.Value {
	if path == "" {
		return v
	}
	for _, part := range strings.Split(path, ".") {
		v = deref(v)
		switch v.Kind() {
		case reflect.Struct:
			next := reflect.Value{}
			for i := 0; i < v.NumField(); i++ {
				if jsonName(v.Type().Field(i)) == part {
					next = v.Field(i)
					break
				}
			}
			v = next
		case reflect.Map:
			v = v.MapIndex(reflect.ValueOf(part))
		default:
			return reflect.Value{}
		}
		if !v.IsValid() {
			return v
		}
	}
	return v
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func jsonName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
