package models

// ResourceDefinition describes a tenant-scoped table exposed by the generic
// CRUD endpoints. Only listed columns can be read or written.
type ResourceDefinition struct {
	Name    string
	Table   string
	Columns []string
	OrderBy string
}

// HasColumn reports whether col is writable on this resource.
func (d ResourceDefinition) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Resources is the registry of tables served under /api/{resource}.
var Resources = map[string]ResourceDefinition{
	"calibrations": {
		Name:    "calibrations",
		Table:   "calibrations",
		Columns: []string{"name", "pixels_per_metric", "metric_name", "range", "active", "powder"},
		OrderBy: "active DESC, name",
	},
	"manual-measurements": {
		Name:    "manual-measurements",
		Table:   "manual_measurements",
		Columns: []string{"measured_at", "process", "parameter", "value", "notes"},
		OrderBy: "measured_at DESC",
	},
	"historic-reports": {
		Name:    "historic-reports",
		Table:   "historic_reports",
		Columns: []string{"process", "calibration", "report_date", "payload"},
		OrderBy: "report_date DESC",
	},
	"global-settings": {
		Name:    "global-settings",
		Table:   "global_settings",
		Columns: []string{"key", "value"},
		OrderBy: "key",
	},
	"company": {
		Name:    "company",
		Table:   "company_settings",
		Columns: []string{"name", "logo"},
		OrderBy: "id",
	},
	"config": {
		Name:    "config",
		Table:   "config_entries",
		Columns: []string{"key", "value"},
		OrderBy: "key",
	},
}
