package custody

import (
	"fmt"
	"sort"
	"time"
)

// FindingType categorizes a custody chain anomaly
type FindingType string

const (
	// FindingContinuityBreak means the receiving custodian or location of
	// one entry does not match the releasing custodian or location of the
	// next.
	FindingContinuityBreak FindingType = "CONTINUITY_BREAK"

	// FindingTemporalAnomaly means consecutive entries run backwards in time
	// or the interval between them exceeds the configured threshold without
	// an explanatory note.
	FindingTemporalAnomaly FindingType = "TEMPORAL_ANOMALY"

	// FindingMissingCustodian means a non-terminal entry names no receiving
	// custodian, or an entry after the first names no releasing custodian.
	FindingMissingCustodian FindingType = "MISSING_CUSTODIAN"
)

// String returns the string representation of the finding type
func (ft FindingType) String() string {
	return string(ft)
}

// Finding is one detected anomaly between or within custody entries
type Finding struct {
	Type        FindingType `json:"type"`
	EvidenceID  string      `json:"evidence_id"`
	SequenceNum uint64      `json:"sequence_num"`
	// PrevSequenceNum is set for pairwise findings
	PrevSequenceNum uint64        `json:"prev_sequence_num,omitempty"`
	Gap             time.Duration `json:"gap,omitempty"`
	Description     string        `json:"description"`
	DetectedAt      time.Time     `json:"detected_at"`
}

// GapReport is the result of analyzing one evidence item's custody chain
type GapReport struct {
	EvidenceID       string     `json:"evidence_id"`
	EntriesExamined  int        `json:"entries_examined"`
	Findings         []*Finding `json:"findings,omitempty"`
	AnalyzedAt       time.Time  `json:"analyzed_at"`
	TemporalThreshold time.Duration `json:"temporal_threshold"`
}

// Clean reports whether no anomalies were found
func (r *GapReport) Clean() bool {
	return len(r.Findings) == 0
}

// FindingsOfType filters the report by finding type
func (r *GapReport) FindingsOfType(ft FindingType) []*Finding {
	var out []*Finding
	for _, f := range r.Findings {
		if f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}

// DefaultTemporalThreshold is the interval above which an unexplained
// custody gap is flagged.
const DefaultTemporalThreshold = time.Hour

// GapDetector analyzes custody chains for continuity breaks, unexplained
// temporal gaps and missing custodians. Findings are advisory; whether they
// block a transition is decided by the caller's strict setting.
type GapDetector struct {
	temporalThreshold time.Duration
}

// NewGapDetector creates a detector with the default one hour threshold
func NewGapDetector() *GapDetector {
	return &GapDetector{temporalThreshold: DefaultTemporalThreshold}
}

// NewGapDetectorWithThreshold creates a detector with a custom threshold.
// A non-positive threshold disables gap-length findings; timestamps running
// backwards are flagged regardless.
func NewGapDetectorWithThreshold(threshold time.Duration) *GapDetector {
	return &GapDetector{temporalThreshold: threshold}
}

// Analyze inspects the chain of custody entries for one evidence item.
// Entries are examined in sequence order regardless of input order.
func (d *GapDetector) Analyze(entries []*Entry) *GapReport {
	now := time.Now().UTC()

	report := &GapReport{
		EntriesExamined:   len(entries),
		AnalyzedAt:        now,
		TemporalThreshold: d.temporalThreshold,
	}

	if len(entries) == 0 {
		return report
	}

	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceNum < sorted[j].SequenceNum
	})

	report.EvidenceID = sorted[0].EvidenceID.String()

	for i, entry := range sorted {
		if !entry.Action.IsTerminal() && entry.ToCustodian == "" {
			report.Findings = append(report.Findings, &Finding{
				Type:        FindingMissingCustodian,
				EvidenceID:  report.EvidenceID,
				SequenceNum: entry.SequenceNum,
				Description: fmt.Sprintf("entry %d (%s) names no receiving custodian",
					entry.SequenceNum, entry.Action),
				DetectedAt: now,
			})
		}

		if i == 0 {
			continue
		}
		prev := sorted[i-1]

		// Every entry after the first must name who released the evidence;
		// an anonymous handoff also defeats the continuity check below.
		if entry.FromCustodian == "" {
			report.Findings = append(report.Findings, &Finding{
				Type:            FindingMissingCustodian,
				EvidenceID:      report.EvidenceID,
				SequenceNum:     entry.SequenceNum,
				PrevSequenceNum: prev.SequenceNum,
				Description: fmt.Sprintf("entry %d (%s) names no releasing custodian",
					entry.SequenceNum, entry.Action),
				DetectedAt: now,
			})
		}

		// The releasing custodian must be whoever last held the evidence
		if entry.FromCustodian != "" && prev.ToCustodian != "" &&
			entry.FromCustodian != prev.ToCustodian {
			report.Findings = append(report.Findings, &Finding{
				Type:            FindingContinuityBreak,
				EvidenceID:      report.EvidenceID,
				SequenceNum:     entry.SequenceNum,
				PrevSequenceNum: prev.SequenceNum,
				Description: fmt.Sprintf("entry %d released by %q but entry %d was received by %q",
					entry.SequenceNum, entry.FromCustodian, prev.SequenceNum, prev.ToCustodian),
				DetectedAt: now,
			})
		}

		// The handoff must also start where the previous one ended
		if entry.FromLocation != "" && prev.ToLocation != "" &&
			entry.FromLocation != prev.ToLocation {
			report.Findings = append(report.Findings, &Finding{
				Type:            FindingContinuityBreak,
				EvidenceID:      report.EvidenceID,
				SequenceNum:     entry.SequenceNum,
				PrevSequenceNum: prev.SequenceNum,
				Description: fmt.Sprintf("entry %d released from %q but entry %d was delivered to %q",
					entry.SequenceNum, entry.FromLocation, prev.SequenceNum, prev.ToLocation),
				DetectedAt: now,
			})
		}

		gap := entry.Timestamp.Sub(prev.Timestamp)
		// Time running backwards is anomalous no matter what; no note can
		// explain it and no threshold setting disables it.
		if gap < 0 {
			report.Findings = append(report.Findings, &Finding{
				Type:            FindingTemporalAnomaly,
				EvidenceID:      report.EvidenceID,
				SequenceNum:     entry.SequenceNum,
				PrevSequenceNum: prev.SequenceNum,
				Gap:             gap,
				Description: fmt.Sprintf("entry %d is timestamped %s before entry %d",
					entry.SequenceNum, -gap, prev.SequenceNum),
				DetectedAt: now,
			})
			continue
		}

		if d.temporalThreshold <= 0 {
			continue
		}
		// A documented handoff note explains the delay
		if gap > d.temporalThreshold && entry.Note == "" {
			report.Findings = append(report.Findings, &Finding{
				Type:            FindingTemporalAnomaly,
				EvidenceID:      report.EvidenceID,
				SequenceNum:     entry.SequenceNum,
				PrevSequenceNum: prev.SequenceNum,
				Gap:             gap,
				Description: fmt.Sprintf("%s elapsed between entries %d and %d with no explanatory note",
					gap, prev.SequenceNum, entry.SequenceNum),
				DetectedAt: now,
			})
		}
	}

	return report
}

// AnalyzeCandidate evaluates the chain as if candidate were appended after
// the existing entries, so a transition can be screened before it commits.
func (d *GapDetector) AnalyzeCandidate(existing []*Entry, candidate *Entry) *GapReport {
	combined := make([]*Entry, 0, len(existing)+1)
	combined = append(combined, existing...)
	combined = append(combined, candidate)
	return d.Analyze(combined)
}
