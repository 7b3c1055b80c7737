package ceph

import (
	"fmt"
	"strings"

	"github.com/danmuck/perfctl/internal/output"
)

// Table lays out perf data with one column per daemon. Each group gets a
// title row followed by one row per counter; nested counter values render as
// one key=value line each.
func (p PerfData) Table() output.Table {
	daemons := sortedKeys(p)

	counters := make(map[string]map[string]struct{})
	for _, groups := range p {
		for group, values := range groups {
			if counters[group] == nil {
				counters[group] = make(map[string]struct{})
			}
			for name := range values {
				counters[group][name] = struct{}{}
			}
		}
	}

	t := output.Table{Header: append([]string{""}, daemons...)}
	for _, group := range sortedKeys(counters) {
		title := make([]string, len(t.Header))
		title[0] = group
		t.Rows = append(t.Rows, title)
		for _, name := range sortedKeys(counters[group]) {
			row := []string{name}
			for _, daemon := range daemons {
				v, ok := p[daemon][group][name]
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, cellValue(v))
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

func cellValue(v any) string {
	nested, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprint(v)
	}
	var b strings.Builder
	for _, k := range sortedKeys(nested) {
		fmt.Fprintf(&b, "%s=%v\n", k, nested[k])
	}
	return b.String()
}
