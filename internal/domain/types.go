package domain

import "time"

// App is one entry of the catalog universe. The platform-assigned numeric
// ID is its identity and never changes once observed.
type App struct {
	ID   int    `json:"appid"`
	Name string `json:"name"`
}

// DetailRecord is the persisted outcome of classifying one application.
// It is overwritten on re-classification, never appended.
type DetailRecord struct {
	Name            string    `json:"name"`
	SupportsChinese bool      `json:"supports_chinese"`
	SupportsCards   bool      `json:"supports_cards"`
	LastChecked     time.Time `json:"last_checked"`
}

// Summary holds the counters one run reports back to the scheduler.
type Summary struct {
	RunID         string        `json:"run_id"`
	NewApps       int           `json:"new_apps"`
	Processed     int           `json:"processed"`
	NewChinese    int           `json:"new_chinese"`
	NewCards      int           `json:"new_cards"`
	Deferred      int           `json:"deferred"`
	MarkedInvalid int           `json:"marked_invalid"`
	TotalChinese  int           `json:"total_chinese"`
	TotalCards    int           `json:"total_cards"`
	Elapsed       time.Duration `json:"elapsed"`
}
