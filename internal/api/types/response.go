package types

import (
	"encoding/json"
	"time"
)

// Pagination describes one page of the event log.
type Pagination struct {
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
	Offset     int
}

// Paginate computes the page window. page is clamped to at least 1. A page
// past the end is reported by PastEnd and its Offset is Total.
func Paginate(total int64, page, size int) Pagination {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 1
	}
	p := Pagination{
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}
	if p.PastEnd() {
		p.Offset = int(total)
	} else {
		p.Offset = (page - 1) * size
	}
	return p
}

// PastEnd reports whether Page lies beyond the last page.
func (p Pagination) PastEnd() bool {
	return p.Page > p.TotalPages
}

// ServerView is a server with its current states.
type ServerView struct {
	Name       string            `json:"name"`
	Hostname   string            `json:"hostname"`
	Disks      []string          `json:"disks"`
	Status     bool              `json:"status"`
	Info       map[string]string `json:"info"`
	LoadState  string            `json:"load_state"`
	RAMState   string            `json:"ram_state"`
	DiskStates map[string]string `json:"disk_states"`
}

// APIView is an API with its current availability.
type APIView struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	RequiresSSH bool   `json:"requires_ssh"`
	Server      string `json:"server,omitempty"`
	Status      bool   `json:"status"`
}

// EventView is one event log entry.
type EventView struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// DashboardResponse is the body of GET /api/dashboard-data.
type DashboardResponse struct {
	Servers       []ServerView `json:"servers"`
	APIs          []APIView    `json:"apis"`
	EventLog      []EventView  `json:"event_log"`
	TotalEvents   int64        `json:"total_events"`
	CurrentPage   int          `json:"current_page"`
	TotalPages    int          `json:"total_pages"`
	EventsPerPage int          `json:"events_per_page"`
	OverallStatus string       `json:"overallStatus"`
}

// HistoryPoint is one stored value of a key.
type HistoryPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state"`
}

// Windows are the fixed ranges of the multi-window history endpoints.
var Windows = []struct {
	Label   string
	Minutes int
}{
	{"5min", 5},
	{"15min", 15},
	{"30min", 30},
	{"60min", 60},
}
