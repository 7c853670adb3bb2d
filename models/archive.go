package models

// An Archive row records that a (source, name) work product has been
// produced at least once. The pair is unique; reporting the same outcome
// twice leaves a single row.
type Archive struct {
	ID     int64  `json:"id"`
	Source string `json:"source"`
	Name   string `json:"name"`
}
