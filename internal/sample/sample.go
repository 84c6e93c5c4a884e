// Package sample writes synthetic CloudTrail log files for local runs and demos.
package sample

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"cloudproof/internal/record"
	"cloudproof/internal/source"

	"github.com/google/uuid"
)

type action struct {
	source   string
	name     string
	readOnly bool
}

var actions = []action{
	{source: "ec2.amazonaws.com", name: "RunInstances"},
	{source: "ec2.amazonaws.com", name: "TerminateInstances"},
	{source: "ec2.amazonaws.com", name: "StopInstances"},
	{source: "ec2.amazonaws.com", name: "DescribeInstances", readOnly: true},
	{source: "s3.amazonaws.com", name: "CreateBucket"},
	{source: "s3.amazonaws.com", name: "PutBucketPolicy"},
	{source: "s3.amazonaws.com", name: "ListBuckets", readOnly: true},
	{source: "iam.amazonaws.com", name: "CreateRole"},
	{source: "iam.amazonaws.com", name: "AttachRolePolicy"},
	{source: "vpc.amazonaws.com", name: "CreateVpc"},
	{source: "vpc.amazonaws.com", name: "CreateSubnet"},
	{source: "lambda.amazonaws.com", name: "CreateFunction"},
	{source: "lambda.amazonaws.com", name: "UpdateFunctionCode"},
	{source: "rds.amazonaws.com", name: "CreateDBInstance"},
	{source: "cloudformation.amazonaws.com", name: "CreateStack"},
	{source: "cloudformation.amazonaws.com", name: "UpdateStack"},
	{source: "signin.amazonaws.com", name: "ConsoleLogin"},
}

// Options controls the generated data.
type Options struct {
	// Days: number of days before End covered by the files.
	Days int
	// End: last generated date. Zero means today.
	End time.Time
	// ActiveRatio: share of days with any activity, in [0, 1].
	ActiveRatio float64
	// MaxEvents: upper bound of events on an active day.
	MaxEvents int
	// Seed: random seed; equal seeds generate equal data except event ids.
	Seed int64
}

// DefaultOptions mirrors a moderately active account over 90 days.
func DefaultOptions() Options {
	return Options{Days: 90, ActiveRatio: 0.7, MaxEvents: 5, Seed: time.Now().UnixNano()}
}

// Summary counts what Generate wrote.
type Summary struct {
	Files   int
	Records int
}

// Generate writes one gzipped CloudTrail file per active day into dir.
func Generate(dir string, opts Options) (Summary, error) {
	var summary Summary
	if opts.Days <= 0 || opts.MaxEvents <= 0 {
		return summary, fmt.Errorf("days and max events must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return summary, fmt.Errorf("create sample directory: %w", err)
	}

	end := opts.End
	if end.IsZero() {
		end = time.Now()
	}
	end = record.DateOf(end)
	rng := rand.New(rand.NewSource(opts.Seed))

	for date := end.AddDate(0, 0, -opts.Days+1); !date.After(end); date = date.AddDate(0, 0, 1) {
		if rng.Float64() >= opts.ActiveRatio {
			continue
		}

		doc := source.Document{Records: make([]record.Raw, 0, opts.MaxEvents)}
		for i := rng.Intn(opts.MaxEvents) + 1; i > 0; i-- {
			picked := actions[rng.Intn(len(actions))]
			at := date.Add(time.Duration(rng.Intn(24*60*60)) * time.Second)
			doc.Records = append(doc.Records, record.Raw{
				"eventID":     uuid.NewString(),
				"eventTime":   at.Format(record.TimeLayout),
				"eventSource": picked.source,
				"eventName":   picked.name,
				"readOnly":    picked.readOnly,
			})
		}

		name := filepath.Join(dir, fmt.Sprintf("cloudtrail_%s.json.gz", date.Format("20060102")))
		if err := writeDocument(name, doc); err != nil {
			return summary, err
		}
		summary.Files++
		summary.Records += len(doc.Records)
	}

	return summary, nil
}

func writeDocument(name string, doc source.Document) error {
	file, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create sample file: %w", err)
	}
	defer file.Close()

	zw := gzip.NewWriter(file)
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		return fmt.Errorf("write sample file: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("write sample file: %w", err)
	}
	return file.Close()
}
