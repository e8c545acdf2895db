package domain

// LeakViolation records one row whose publication timestamp exceeds the
// decision timestamp it was resolved for.
type LeakViolation struct {
	Symbol        string
	Field         string
	DecisionTsMs  int64
	PublishedAtMs int64
}

// LeakReport is the validator's output for one manifest.
// An empty Violations slice means the snapshot passed.
type LeakReport struct {
	ManifestID  string
	StrictMode  bool
	CheckedRows int
	Violations  []LeakViolation
}

// Pass reports whether the validated snapshot is leak-free.
func (r *LeakReport) Pass() bool {
	return len(r.Violations) == 0
}
