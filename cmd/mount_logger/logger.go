// Command mount_logger records the mount daemon's status stream in InfluxDB.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/mount_interface/internal/config"
	"github.com/w1xm/mount_interface/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := influxdb2.NewClient(cfg.Influx.Server, cfg.Influx.Token)
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(cfg.Influx.Org, cfg.Influx.Bucket)
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.WithError(err).Warn("write error")
		}
	}()
	for ctx.Err() == nil {
		if err := logData(ctx, writeApi, cfg.Influx.StatusURL); err != nil {
			log.WithError(err).Warn("reading status")
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	default:
		fields[prefix[1:]] = status
	}
}

// statusFields flattens one status message and tags it with the mount
// family. ok is false for messages that are not status snapshots.
func statusFields(status map[string]interface{}) (tags map[string]string, fields map[string]interface{}, ok bool) {
	if _, ok := status["state"]; !ok {
		return nil, nil, false
	}
	fields = make(map[string]interface{})
	flattenStatus(fields, status, "")
	tags = make(map[string]string)
	if family, ok := fields["capabilities.family"].(string); ok {
		tags["family"] = family
	}
	return tags, fields, true
}

func logData(ctx context.Context, writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var status map[string]interface{}
		if err := conn.ReadJSON(&status); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		tags, fields, ok := statusFields(status)
		if !ok {
			continue
		}
		p := influxdb2.NewPoint("mount.status", tags, fields, time.Now())
		// write asynchronously
		writeApi.WritePoint(p)
	}
}
