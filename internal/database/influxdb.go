package database

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"c2c/internal/config"
	"c2c/internal/logging"
	"c2c/internal/report"
	"c2c/internal/tasks"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	passMeasurement   = "c2c_pass"
	targetMeasurement = "c2c_target_threads"
	runMeasurement    = "c2c_run_meta"
)

// RunMetadata describes one engine process.
type RunMetadata struct {
	RunID            string `json:"run_id"`
	SchedulerVersion string `json:"scheduler_version"`
	Started          string `json:"started"` // RFC3339 timestamp
	Home             string `json:"home"`
	Hostname         string `json:"hostname"`
	OSInfo           string `json:"os_info"`
	MultiTarget      bool   `json:"multi_target"`
	Fallback         string `json:"fallback"`
	Eviction         string `json:"eviction"`
	ConfigFile       string `json:"config_file"`
}

// CollectRunMetadata gathers what is worth keeping about the process next to its passes.
func CollectRunMetadata(runID, version string, cfg *config.Config, configContent string, started time.Time) *RunMetadata {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &RunMetadata{
		RunID:            runID,
		SchedulerVersion: version,
		Started:          started.Format(time.RFC3339),
		Home:             cfg.Engine.Home,
		Hostname:         hostname,
		OSInfo:           runtime.GOOS + "/" + runtime.GOARCH,
		MultiTarget:      cfg.Policy.MultiTarget,
		Fallback:         cfg.Policy.Fallback,
		Eviction:         cfg.Policy.Eviction,
		ConfigFile:       configContent,
	}
}

// pointWriter is the part of the blocking write API the recorder needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI pointWriter
	bucket   string
	org      string
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}

	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is unhealthy: %s", config.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Name),
		bucket:   config.Name,
		org:      config.Org,
	}, nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	point := influxdb2.NewPoint(runMeasurement,
		map[string]string{
			"run_id": metadata.RunID,
		},
		map[string]interface{}{
			"scheduler_version": metadata.SchedulerVersion,
			"started":           metadata.Started,
			"home":              metadata.Home,
			"hostname":          metadata.Hostname,
			"os_info":           metadata.OSInfo,
			"multi_target":      metadata.MultiTarget,
			"fallback":          metadata.Fallback,
			"eviction":          metadata.Eviction,
			"config_file":       metadata.ConfigFile,
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ObservePass writes one summary point for the pass and one point per target
// with the thread totals after it.
func (idb *InfluxDBClient) ObservePass(ctx context.Context, pass *report.Pass) error {
	points := PassPoints(pass)
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write pass %d: %w", pass.Number, err)
	}
	return nil
}

// PassPoints converts a pass report into line protocol points, all stamped
// with the pass start time.
func PassPoints(pass *report.Pass) []*write.Point {
	goal := pass.Goal
	if goal == "" {
		goal = "none"
	}
	tags := map[string]string{
		"run_id": pass.RunID,
		"goal":   goal,
	}

	fields := map[string]interface{}{
		"pass_number":    pass.Number,
		"waiting":        pass.Waiting,
		"duration_ms":    pass.Duration.Milliseconds(),
		"targets":        len(pass.Targets),
		"visited":        pass.Visited,
		"skipped":        pass.Skipped,
		"useless":        pass.Useless,
		"evicted":        pass.Evicted,
		"freed_gb":       pass.FreedGB,
		"reservation_gb": pass.ReservationGB,
	}
	for _, k := range tasks.Kinds {
		fields["launched_"+k.String()] = pass.Launched.Get(k)
		fields["nodes_"+k.String()] = len(pass.NodeLists[k])
	}

	points := []*write.Point{influxdb2.NewPoint(passMeasurement, tags, fields, pass.StartedAt)}

	for target, a := range pass.Allocations {
		name := target
		if name == "" {
			name = "-"
		}
		targetFields := map[string]interface{}{
			"pass_number": pass.Number,
		}
		for _, k := range tasks.Kinds {
			if k.Targeted() || target == "" {
				targetFields[k.String()+"_threads"] = a.Get(k)
			}
		}
		points = append(points, influxdb2.NewPoint(targetMeasurement,
			map[string]string{
				"run_id": pass.RunID,
				"goal":   goal,
				"target": name,
			},
			targetFields,
			pass.StartedAt))
	}
	return points
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
