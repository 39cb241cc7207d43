// Package influxdb writes arbiter statistics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The engine's
// statistics cycle feeds it per-device failure ratios, request latency per
// API path, per-device call counts and queue depths; engine events are
// counted as well.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteFailureRatio("lamp-kitchen", 0.02)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; async failures are reported through SetOnError.
package influxdb
