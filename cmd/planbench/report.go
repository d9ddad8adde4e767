package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

// printReport writes a comparison report as text or JSON
func printReport(w io.Writer, report *models.ComparisonReport, format string) error {
	var delta *models.PlanDelta
	if d, err := models.Delta(report); err == nil {
		delta = &d
	}

	if format == "json" {
		data, err := marshalReport(report, delta)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintln(w, "=== Query Plan Comparison ===")
	if report.ID != "" {
		fmt.Fprintf(w, "Run:        %s\n", report.ID)
	}
	fmt.Fprintf(w, "Collection: %s\n", report.Query.Collection)
	fmt.Fprintf(w, "Query:      %s %s\n", report.Query.Kind(), payloadText(report.Query))
	fmt.Fprintf(w, "Index:      %s (%s)\n", report.Index.Name(), indexState(report))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tBEFORE\tAFTER\tDELTA")
	before, after := report.Before, report.After
	row := func(label string, b, a func(*models.ExecutionStats) string, d string) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", label, cell(before, b), cell(after, a), d)
	}
	stage := func(s *models.ExecutionStats) string { return string(s.PlanStage) }
	row("Plan stage", stage, stage, "")
	if delta != nil {
		row("Keys examined", keys, keys, signed(delta.KeysExaminedDelta))
		row("Docs examined", docs, docs, signed(delta.DocsExaminedDelta))
		row("Docs returned", returned, returned, signed(delta.ReturnedDelta))
		row("Execution time", execTime, execTime, signedDuration(delta.TimeDelta))
	} else {
		row("Keys examined", keys, keys, "")
		row("Docs examined", docs, docs, "")
		row("Docs returned", returned, returned, "")
		row("Execution time", execTime, execTime, "")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	if before != nil {
		fmt.Fprintf(w, "Before stages: %s\n", strings.Join(before.Stages, " > "))
	}
	if after != nil {
		fmt.Fprintf(w, "After stages:  %s\n", strings.Join(after.Stages, " > "))
		if after.Covered {
			fmt.Fprintln(w, "After plan is covered by the index (no documents fetched)")
		}
	}
	if delta != nil {
		if delta.Improved() {
			fmt.Fprintln(w, "Result: the index reduced the work done by the query")
		} else {
			fmt.Fprintln(w, "Result: the index did not reduce the work done by the query")
		}
	}
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
	if report.Warning != "" {
		fmt.Fprintf(w, "Warning: %s\n", report.Warning)
	}
	return nil
}

// printBatch writes a summary of a batch run
func printBatch(w io.Writer, result models.BatchResult, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(batchJSON(result), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode batch result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintln(w, "=== Query Plan Batch Summary ===")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tINDEX\tBEFORE\tAFTER\tDOCS Δ\tKEYS Δ\tSTATUS")
	for _, res := range result.Results {
		beforeStage, afterStage, docsDelta, keysDelta := "-", "-", "-", "-"
		if res.Report != nil && res.Report.Before != nil {
			beforeStage = string(res.Report.Before.PlanStage)
		}
		if res.Report != nil && res.Report.After != nil {
			afterStage = string(res.Report.After.PlanStage)
		}
		if res.Delta != nil {
			docsDelta = signed(res.Delta.DocsExaminedDelta)
			keysDelta = signed(res.Delta.KeysExaminedDelta)
		}
		status := "✓ Success"
		if !res.Success {
			status = "✗ Failed: " + res.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			res.Collection, res.IndexName, beforeStage, afterStage, docsDelta, keysDelta, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d of %d comparisons succeeded, %d improved by their index\n",
		len(result.Results)-countFailed(result.Results), len(result.Results), result.Improved)
	return nil
}

func printIndexes(w io.Writer, indexes []models.IndexSpec) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKEYS")
	for _, idx := range indexes {
		keys, err := bson.MarshalExtJSON(idx.Keys(), false, false)
		if err != nil {
			return fmt.Errorf("failed to encode keys of %s: %w", idx.Name(), err)
		}
		fmt.Fprintf(tw, "%s\t%s\n", idx.Name(), keys)
	}
	return tw.Flush()
}

func countFailed(results []models.ComparisonResult) int {
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	return failed
}

// marshalReport renders the query payload as Extended JSON so filters and
// pipelines read the way they were written instead of as key/value pairs.
func marshalReport(report *models.ComparisonReport, delta *models.PlanDelta) ([]byte, error) {
	query, err := bson.MarshalExtJSON(report.Query, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	out := struct {
		*models.ComparisonReport
		Query json.RawMessage   `json:"query"`
		Delta *models.PlanDelta `json:"delta,omitempty"`
	}{report, query, delta}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

type batchResultJSON struct {
	Results        []json.RawMessage `json:"results"`
	OverallSuccess bool              `json:"overallSuccess"`
	Improved       int               `json:"improved"`
}

func batchJSON(result models.BatchResult) batchResultJSON {
	out := batchResultJSON{
		OverallSuccess: result.OverallSuccess,
		Improved:       result.Improved,
	}
	for _, res := range result.Results {
		entry := map[string]interface{}{
			"collection": res.Collection,
			"indexName":  res.IndexName,
			"success":    res.Success,
		}
		if res.ErrorMessage != "" {
			entry["errorMessage"] = res.ErrorMessage
		}
		if res.Report != nil {
			if data, err := marshalReport(res.Report, res.Delta); err == nil {
				entry["report"] = json.RawMessage(data)
			}
		}
		data, _ := json.Marshal(entry)
		out.Results = append(out.Results, data)
	}
	return out
}

func payloadText(q models.QuerySpec) string {
	payload := q.Filter
	if q.Kind() == models.QueryKindAggregate {
		payload = q.Pipeline
	}
	if payload == nil {
		return "{}"
	}
	// MarshalExtJSON needs a document at the top level
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: payload}}, false, false)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	text := strings.TrimSuffix(strings.TrimPrefix(string(data), `{"v":`), "}")
	return text
}

func indexState(report *models.ComparisonReport) string {
	switch {
	case report.Index.PreExisting:
		return "pre-existing, reused"
	case report.KeepIndex:
		return "created, kept"
	default:
		return "created, dropped after measurement"
	}
}

func cell(s *models.ExecutionStats, f func(*models.ExecutionStats) string) string {
	if s == nil {
		return "-"
	}
	return f(s)
}

func keys(s *models.ExecutionStats) string     { return fmt.Sprint(s.KeysExamined) }
func docs(s *models.ExecutionStats) string     { return fmt.Sprint(s.DocsExamined) }
func returned(s *models.ExecutionStats) string { return fmt.Sprint(s.DocsReturned) }
func execTime(s *models.ExecutionStats) string { return s.ExecutionTime.String() }

func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprint(n)
}

func signedDuration(d time.Duration) string {
	if d > 0 {
		return "+" + d.String()
	}
	return d.String()
}
