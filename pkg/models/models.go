package models

import "time"

// ConnectionParams contains the parameters needed to reach MongoDB
type ConnectionParams struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database"`
	ConnectTimeout time.Duration `json:"connectTimeout,omitempty"`
	AppName        string        `json:"appName,omitempty"`
}

// ComparisonRequest is one query/index pair to compare
type ComparisonRequest struct {
	Query     QuerySpec `json:"query"`
	Index     IndexSpec `json:"index"`
	KeepIndex bool      `json:"keepIndex,omitempty"`
}

// ComparisonResult contains the result of a single comparison in a batch
type ComparisonResult struct {
	Collection   string            `json:"collection"`
	IndexName    string            `json:"indexName"`
	Report       *ComparisonReport `json:"report,omitempty"`
	Delta        *PlanDelta        `json:"delta,omitempty"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// BatchResult contains the overall result of a batch of comparisons
type BatchResult struct {
	Results        []ComparisonResult `json:"results"`
	OverallSuccess bool               `json:"overallSuccess"`
	Improved       int                `json:"improved"`
}
