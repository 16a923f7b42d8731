package models

import (
	"strings"
	"time"
)

type ClientType string

const (
	ClientRegular       ClientType = "REGULAR"
	ClientSeniorCitizen ClientType = "SENIOR_CITIZEN"
	ClientPWD           ClientType = "PWD"
	ClientPregnant      ClientType = "PREGNANT"
)

// ParseClientType accepts the enumerated values case-insensitively.
func ParseClientType(raw string) (ClientType, bool) {
	value := ClientType(strings.ToUpper(strings.TrimSpace(raw)))
	if !value.Valid() {
		return "", false
	}
	return value, true
}

func (c ClientType) Valid() bool {
	switch c {
	case ClientRegular, ClientSeniorCitizen, ClientPWD, ClientPregnant:
		return true
	}
	return false
}

// IsPriority reports whether entries of this type are ordered ahead of REGULAR.
func (c ClientType) IsPriority() bool {
	switch c {
	case ClientSeniorCitizen, ClientPWD, ClientPregnant:
		return true
	}
	return false
}

const (
	StatusWaiting    = "WAITING"
	StatusNowServing = "NOW_SERVING"
	StatusServed     = "SERVED"
	StatusSkipped    = "SKIPPED"
)

type QueueEntry struct {
	ID               string        `json:"id"`
	QueueNumber      string        `json:"queue_number"`
	ClientName       string        `json:"client_name"`
	ClientType       ClientType    `json:"client_type"`
	CategoryID       string        `json:"category_id"`
	SubCategoryID    *string       `json:"sub_category_id,omitempty"`
	Categories       []Category    `json:"categories,omitempty"`
	SubCategories    []SubCategory `json:"sub_categories,omitempty"`
	Status           string        `json:"status"`
	WindowID         *string       `json:"window_id,omitempty"`
	SkippedByStaffID *string       `json:"skipped_by_staff_id,omitempty"`
	JoinedAt         time.Time     `json:"joined_at"`
	CreatedAt        time.Time     `json:"created_at"`
	ServedAt         *time.Time    `json:"served_at,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Active reports whether the entry still occupies a place in the queue.
func (e QueueEntry) Active() bool {
	return e.Status == StatusWaiting || e.Status == StatusNowServing
}

type ServingLog struct {
	ID              string     `json:"id"`
	QueueEntryID    string     `json:"queue_entry_id"`
	StaffID         string     `json:"staff_id"`
	WindowID        *string    `json:"window_id,omitempty"`
	CategoryID      string     `json:"category_id"`
	SubCategoryID   *string    `json:"sub_category_id,omitempty"`
	ClientType      ClientType `json:"client_type"`
	DurationSeconds int64      `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EntryStatus is the public view of a queue number.
type EntryStatus struct {
	QueueNumber  string    `json:"queue_number"`
	Status       string    `json:"status"`
	WindowNumber *int      `json:"window_number,omitempty"`
	PeopleAhead  int       `json:"people_ahead"`
	JoinedAt     time.Time `json:"joined_at"`
}
