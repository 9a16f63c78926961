// Package influxdb records command outcomes in InfluxDB for Gray Logic Dispatch.
//
// It wraps the official influxdb-client-go v2 library. Every command that
// reaches a terminal state becomes one command_outcome point, which gives
// per-device success rates and delivery latency over time. The queue depth
// sampler writes command_queue points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteCommandOutcome(influxdb.CommandOutcome{DeviceID: "fan1", Status: "completed"})
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are delivered to the SetOnError callback
// wrapped in ErrWriteFailed. Connection and health check errors are
// returned directly.
package influxdb
