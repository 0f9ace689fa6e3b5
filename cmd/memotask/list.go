package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mohans/memotask/ledger"
)

func runListCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	status := fs.String("status", "", "only records with this status")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st := ledger.Status(strings.ToUpper(strings.TrimSpace(*status)))
	switch st {
	case "", ledger.StatusPending, ledger.StatusRunning, ledger.StatusCompleted, ledger.StatusFailed:
	default:
		fmt.Fprintf(stderr, "unknown status %q\n", *status)
		return 2
	}

	a, ok := loadApp(ctx, stderr, true)
	if !ok {
		return 1
	}
	defer a.Close()

	recs, err := a.ledger.List(ctx, st)
	if err != nil {
		fmt.Fprintf(stderr, "Error listing records: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTASK\tSTATUS\tCREATED\tDURATION\tPARAMETERS")
	for _, r := range recs {
		dur := "-"
		if r.Duration != nil {
			dur = r.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.TaskKey, r.Status, r.CreatedAt.Format(time.RFC3339), dur, r.CanonicalParameters)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func runShowCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: memotask show <record-id>")
		return 2
	}
	a, ok := loadApp(ctx, stderr, true)
	if !ok {
		return 1
	}
	defer a.Close()

	rec, err := a.ledger.Get(ctx, args[0])
	if errors.Is(err, ledger.ErrNotFound) {
		fmt.Fprintf(stderr, "no record %s\n", args[0])
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error reading record: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recordView(rec)); err != nil {
		fmt.Fprintf(stderr, "Error encoding json: %v\n", err)
		return 1
	}
	return 0
}

type recordJSON struct {
	ID              string          `json:"id"`
	Task            string          `json:"task"`
	ParamsHash      string          `json:"params_hash"`
	Parameters      json.RawMessage `json:"parameters"`
	RandomSeed      *int64          `json:"random_seed,omitempty"`
	Status          ledger.Status   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Error           *string         `json:"error,omitempty"`
	ResultLocation  *string         `json:"result_location,omitempty"`
	ResultFormat    *string         `json:"result_format,omitempty"`
}

func recordView(r *ledger.TaskRecord) recordJSON {
	v := recordJSON{
		ID:             r.ID,
		Task:           r.TaskKey,
		ParamsHash:     r.ParamsHash,
		Parameters:     json.RawMessage(r.CanonicalParameters),
		RandomSeed:     r.RandomSeed,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Error:          r.ErrorMessage,
		ResultLocation: r.ResultLocation,
		ResultFormat:   r.ResultFormat,
	}
	if r.Duration != nil {
		s := r.Duration.Seconds()
		v.DurationSeconds = &s
	}
	if len(v.Parameters) == 0 {
		v.Parameters = json.RawMessage("{}")
	}
	return v
}
