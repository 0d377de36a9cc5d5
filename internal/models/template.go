package models

import (
	"gorm.io/gorm"
)

type TemplateSource string

const (
	TemplateSourceDashboard TemplateSource = "dashboard"
	TemplateSourceChat      TemplateSource = "chat"
)

type ChartType string

const (
	ChartTypeBar   ChartType = "bar"
	ChartTypeLine  ChartType = "line"
	ChartTypePie   ChartType = "pie"
	ChartTypeArea  ChartType = "area"
	ChartTypeTable ChartType = "table"
)

// ChartConfig describes a single chart inside a report template. Charts are
// stored embedded in the template row, not as separate rows.
type ChartConfig struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Type         ChartType         `json:"type"`
	Dimensions   []string          `json:"dimensions"`
	Metrics      []string          `json:"metrics"`
	Filters      map[string]string `json:"filters,omitempty"`
	DataSourceID string            `json:"dataSourceId"`
}

// Layout controls how charts are arranged in the rendered report.
// ChartOrder must only reference ids present in the template's chart list.
type Layout struct {
	Columns    int      `json:"columns"`
	ChartOrder []string `json:"chartOrder"`
}

type ReportTemplate struct {
	gorm.Model
	Name        string         `json:"name" gorm:"index;not null"`
	Description string         `json:"description"`
	Source      TemplateSource `json:"source" gorm:"not null"`
	SourceID    string         `json:"sourceId"`
	Charts      []ChartConfig  `json:"charts" gorm:"serializer:json"`
	Layout      *Layout        `json:"layout,omitempty" gorm:"serializer:json"`
	Tags        []string       `json:"tags" gorm:"serializer:json"`
	CreatedBy   string         `json:"createdBy"`
}

// HasTag reports whether the template carries the given tag.
func (t *ReportTemplate) HasTag(tag string) bool {
	for _, tt := range t.Tags {
		if tt == tag {
			return true
		}
	}
	return false
}
