// Package requester relays requester (end-user) records between the
// local relational store, the external search provider, and the remote
// ticketing API.
package requester

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Record is a locally cached requester. The local store is a cache of
// records already pushed to the ticketing API, not the system of record.
type Record struct {
	ID          int64     `json:"id"`
	RequesterID string    `json:"requester_id"`
	Name        string    `json:"name"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	EmailID     string    `json:"email_id"`
	PhoneNum    string    `json:"phone_num"`
	Mobile      string    `json:"mobile"`
	EmployeeID  string    `json:"employee_id"`
	JobTitle    string    `json:"job_title"`
	Description string    `json:"description"`
	Gender      string    `json:"gender"`
	CreatedDate time.Time `json:"created_date"`
}

// Input is the requester payload accepted from callers
type Input struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	EmailID     string `json:"email_id"`
	PhoneNum    string `json:"phone_num"`
	Mobile      string `json:"mobile"`
	EmployeeID  string `json:"employee_id"`
	JobTitle    string `json:"job_title"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
}

// RemoteEnvelope is the provider-specific wrapper around a requester payload
type RemoteEnvelope struct {
	Requester RemotePayload `json:"requester"`
}

// RemotePayload is a requester in the ticketing API's field naming
type RemotePayload struct {
	Name        string    `json:"name"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	EmailID     string    `json:"email_id"`
	Phone       string    `json:"phone"`
	Mobile      string    `json:"mobile"`
	EmployeeID  string    `json:"employee_id"`
	JobTitle    string    `json:"job_title"`
	Description string    `json:"description"`
	UDFFields   UDFFields `json:"udf_fields"`
}

// UDFFields carries provider user-defined fields; udf_char1 holds gender
type UDFFields struct {
	UDFChar1 string  `json:"udf_char1,omitempty"`
	UDFChar2 *string `json:"udf_char2"`
}

// RemoteRequester is a requester as returned by the ticketing API
type RemoteRequester struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	EmailID     string      `json:"email_id"`
	Phone       string      `json:"phone"`
	Mobile      string      `json:"mobile"`
	EmployeeID  string      `json:"employee_id"`
	JobTitle    string      `json:"job_title"`
	Description string      `json:"description"`
	UDFFields   UDFFields   `json:"udf_fields"`
	CreatedTime *RemoteTime `json:"created_time,omitempty"`
}

// RemoteTime is the provider's timestamp representation
type RemoteTime struct {
	DisplayValue string `json:"display_value"`
	Value        string `json:"value"`
}

// Time parses the provider timestamp; the machine-readable value is
// epoch milliseconds, with the display value as a fallback.
func (t *RemoteTime) Time() time.Time {
	if t == nil {
		return time.Time{}
	}
	if t.Value != "" {
		if ms, err := strconv.ParseInt(t.Value, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
	}
	if parsed, err := time.Parse("Jan 2, 2006 03:04 PM", t.DisplayValue); err == nil {
		return parsed
	}
	return time.Time{}
}

// ExternalResult is a requester-shaped record from the search provider
type ExternalResult struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	EmailID     string `json:"email_id"`
	Phone       string `json:"phone"`
	Mobile      string `json:"mobile"`
	EmployeeID  string `json:"employee_id"`
	JobTitle    string `json:"job_title"`
	Description string `json:"description"`
}

// EnrichedResult is an external result with its local match attached.
// LocalMatch is nil when no locally cached record shares the email_id.
type EnrichedResult struct {
	ExternalResult
	Source     string  `json:"source"`
	LocalMatch *Record `json:"localMatch"`
}

// NormalizeGender capitalizes only the first letter of a free-text
// gender value: "male" -> "Male", "FEMALE" -> "Female". Empty input is
// passed through unchanged, never defaulted.
func NormalizeGender(gender string) string {
	if gender == "" {
		return ""
	}
	lower := strings.ToLower(gender)
	first, size := utf8.DecodeRuneInString(lower)
	return string(unicode.ToUpper(first)) + lower[size:]
}

// ToRemoteEnvelope maps the local field naming onto the ticketing API's
// naming, normalizing the gender value along the way.
func (in Input) ToRemoteEnvelope() RemoteEnvelope {
	return RemoteEnvelope{
		Requester: RemotePayload{
			Name:        strings.TrimSpace(in.FirstName + " " + in.LastName),
			FirstName:   in.FirstName,
			LastName:    in.LastName,
			EmailID:     in.EmailID,
			Phone:       in.PhoneNum,
			Mobile:      in.Mobile,
			EmployeeID:  in.EmployeeID,
			JobTitle:    in.JobTitle,
			Description: in.Description,
			UDFFields: UDFFields{
				UDFChar1: NormalizeGender(in.Gender),
			},
		},
	}
}

// ToRecord converts a remote requester into a local cache record
func (r *RemoteRequester) ToRecord() Record {
	return Record{
		RequesterID: r.ID,
		Name:        r.Name,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		EmailID:     r.EmailID,
		PhoneNum:    r.Phone,
		Mobile:      r.Mobile,
		EmployeeID:  r.EmployeeID,
		JobTitle:    r.JobTitle,
		Description: r.Description,
		Gender:      r.UDFFields.UDFChar1,
		CreatedDate: r.CreatedTime.Time(),
	}
}
