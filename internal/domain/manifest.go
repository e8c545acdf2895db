package domain

// Dataset names used by the registry and in manifests.
const (
	DatasetCandles          = "market_ohlcv"
	DatasetFeatures         = "market_technicals"
	DatasetFundamentals     = "company_fundamentals"
	DatasetCorporateActions = "corporate_actions"
	DatasetRatings          = "analyst_ratings"
)

// DatasetVersion is the content hash of one registry dataset slice at the
// moment a snapshot was built. The hash is a deterministic function of the
// rows, so an unchanged registry always yields the same version.
type DatasetVersion struct {
	DatasetName string
	ContentHash string // hex SHA-256
	RowCount    int
}

// SkipEntry records one non-critical data gap. FallbackReason is mandatory:
// a gap may reduce scope only with an attached human-readable justification.
type SkipEntry struct {
	Symbol         string
	Field          string
	FallbackReason string
	Impact         string
}

// WorldStateManifest fully determines the content of a point-in-time
// snapshot: universe, range, dataset versions and the policies applied.
// ManifestID is the SHA-256 of the full input set; two builds against an
// unchanged registry with identical arguments produce identical IDs.
// Manifests are immutable once written.
type WorldStateManifest struct {
	ManifestID       string
	Universe         []string
	StartDate        string // "YYYY-MM-DD"
	EndDate          string
	AdjustmentPolicy AdjustmentPolicy
	TieBreak         TieBreak
	DatasetVersions  []DatasetVersion
	SkipReport       []SkipEntry
	RowCount         int // total resolved rows aggregated into the snapshot
}

// DatasetHash returns the content hash recorded for the named dataset,
// or "" if the dataset was not touched by the build.
func (m *WorldStateManifest) DatasetHash(name string) string {
	for _, v := range m.DatasetVersions {
		if v.DatasetName == name {
			return v.ContentHash
		}
	}
	return ""
}
