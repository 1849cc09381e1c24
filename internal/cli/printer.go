package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// printRaw writes a response body, indented when it is JSON.
func printRaw(w io.Writer, body []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		w.Write(body)
		return
	}
	fmt.Fprintln(w, buf.String())
}

// printPage renders the data array of a paginated response as a table of
// the given gjson paths.
func printPage(w io.Writer, title string, body []byte, columns ...string) {
	if jsonOutput {
		printRaw(w, body)
		return
	}
	caser := cases.Title(language.English)
	rows := gjson.GetBytes(body, "data").Array()
	fmt.Fprintf(w, "%s (%d):\n", caser.String(title), gjson.GetBytes(body, "meta.count").Int())
	if len(rows) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(strings.ReplaceAll(c, "_", " "))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = row.Get(c).String()
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

// printObject renders selected fields of one object as key: value lines.
func printObject(w io.Writer, body []byte, fields ...string) {
	if jsonOutput {
		printRaw(w, body)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	for _, f := range fields {
		v := gjson.GetBytes(body, f)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", f, v.String())
	}
	tw.Flush()
}
