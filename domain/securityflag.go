package domain

import "time"

// Risk levels for security flags. Anything below RiskNotice is informational;
// RiskHigh and above should page someone.
const (
	RiskInfo     = 1
	RiskLow      = 2
	RiskNotice   = 3
	RiskHigh     = 4
	RiskCritical = 5
)

// SecurityFlag is an immutable audit record of a risk-scored event. The only
// permitted mutation after creation is the resolved transition, exactly once.
type SecurityFlag struct {
	ID             string            `bson:"_id,omitempty"                json:"id"`
	IPAddress      string            `bson:"ip_address"                   json:"ipAddress"`
	RiskLevel      int               `bson:"risk_level"                   json:"riskLevel"`
	Description    string            `bson:"description"                  json:"description"`
	FileName       string            `bson:"file_name"                    json:"fileName"`
	DateTime       time.Time         `bson:"date_time"                    json:"dateTime"`
	UserID         string            `bson:"user_id,omitempty"            json:"userId,omitempty"`
	QuartzUserID   string            `bson:"quartz_user_id,omitempty"     json:"quartzUserId,omitempty"`
	ImplKey        string            `bson:"implementation_key,omitempty" json:"implementationKey,omitempty"`
	Method         string            `bson:"method,omitempty"             json:"method,omitempty"`
	URL            string            `bson:"url,omitempty"                json:"url,omitempty"`
	Headers        map[string]string `bson:"headers,omitempty"            json:"headers,omitempty"`
	AdditionalData map[string]any    `bson:"additional_data,omitempty"    json:"additionalData,omitempty"`
	Resolved       bool              `bson:"resolved"                     json:"resolved"`
	ResolvedBy     string            `bson:"resolved_by,omitempty"        json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time        `bson:"resolved_at,omitempty"        json:"resolvedAt,omitempty"`
	ResolvedNotes  string            `bson:"resolved_notes,omitempty"     json:"resolvedNotes,omitempty"`

	// DateText and AdditionalDataText are derived search columns written on
	// insert, so the free-text viewer filters can regex over the formatted
	// timestamp and the serialized additional data.
	DateText           string `bson:"date_text,omitempty"            json:"-"`
	AdditionalDataText string `bson:"additional_data_text,omitempty" json:"-"`
}

// SecurityFlagFilter narrows flag queries. Zero values mean "no constraint".
// Text fields are interpreted as case-insensitive regular expressions over
// their target field.
type SecurityFlagFilter struct {
	RiskLevel      int // exact match when > 0
	MinRiskLevel   int // lower bound when > 0; ignored if RiskLevel is set
	IPAddress      string
	Resolved       *bool
	FromDate       time.Time
	ToDate         time.Time
	Description    string
	UserIdentity   string // matches user_id or quartz_user_id
	FileName       string
	AdditionalData string // matches the serialized additional data
	DateText       string // matches the formatted timestamp
	Limit          int64
	Skip           int64
}
