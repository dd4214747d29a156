package models

// QualityStatus is the bucketed verdict of a quality assessment
type QualityStatus string

const (
	QualityGreat    QualityStatus = "great"
	QualityGood     QualityStatus = "good"
	QualityReview   QualityStatus = "review"
	QualityCritical QualityStatus = "critical"
)

// String implements fmt.Stringer for logging
func (s QualityStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known value
func (s QualityStatus) IsValid() bool {
	switch s {
	case QualityGreat, QualityGood, QualityReview, QualityCritical:
		return true
	}
	return false
}

// rank orders statuses from worst (0) to best (3). Unknown values rank as critical.
func (s QualityStatus) rank() int {
	switch s {
	case QualityGreat:
		return 3
	case QualityGood:
		return 2
	case QualityReview:
		return 1
	}
	return 0
}

// WorseStatus returns whichever of a and b is the less favourable verdict
func WorseStatus(a, b QualityStatus) QualityStatus {
	if b.rank() < a.rank() {
		return b
	}
	return a
}

// StatusForScore buckets a 0..100 score: >=90 great, >=75 good, >=60 review, else critical.
func StatusForScore(score int) QualityStatus {
	switch {
	case score >= 90:
		return QualityGreat
	case score >= 75:
		return QualityGood
	case score >= 60:
		return QualityReview
	}
	return QualityCritical
}

// Grade returns the human-readable label shown next to a score
func (s QualityStatus) Grade() string {
	switch s {
	case QualityGreat:
		return "Excellent"
	case QualityGood:
		return "Strong"
	case QualityReview:
		return "Needs review"
	}
	return "Critical"
}

// StrategyKind identifies how the image was referenced in a generation request
type StrategyKind string

const (
	StrategyRemoteURL    StrategyKind = "remote-url"
	StrategyInlineBase64 StrategyKind = "inline-base64"
	StrategyOmitted      StrategyKind = "omitted"
)

// String implements fmt.Stringer for logging
func (k StrategyKind) String() string {
	if k == "" {
		return "unset"
	}
	return string(k)
}

// Source labels what triggered a generation
type Source string

const (
	SourceAuto      Source = "auto" // Generate-on-upload
	SourceManual    Source = "manual"
	SourceBulk      Source = "bulk"
	SourceAPI       Source = "api"
	SourceDashboard Source = "dashboard"
	SourceCLI       Source = "cli"
	SourceQueue     Source = "queue"
)

// IsValid returns true if the source is a known label
func (s Source) IsValid() bool {
	switch s {
	case SourceAuto, SourceManual, SourceBulk, SourceAPI, SourceDashboard, SourceCLI, SourceQueue:
		return true
	}
	return false
}

// NormalizeSource maps unknown or empty labels to SourceManual
func NormalizeSource(s string) Source {
	src := Source(s)
	if src.IsValid() {
		return src
	}
	return SourceManual
}
