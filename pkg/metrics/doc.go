/*
Package metrics provides Prometheus metrics collection and exposition
for aoecas.

Metrics are registered once at package init and exposed via HTTP for
scraping by Prometheus servers.

# Metrics Catalog

aoecas_targets_total:
  - Type: Gauge
  - Description: Total number of configured targets
  - Example: aoecas_targets_total 4

aoecas_frames_total{command, status}:
  - Type: Counter
  - Description: Total request frames handled, by command and outcome
  - Labels: command, status (matched/dropped)
  - Example: aoecas_frames_total{command="ata",status="matched"} 10482

aoecas_frame_duration_seconds{command}:
  - Type: Histogram
  - Description: Time taken to dispatch a request frame and build its response(s)
  - Labels: command

aoecas_blob_store_puts_total:
  - Type: Counter
  - Description: Total number of blobs written to the content-addressed store

aoecas_blob_store_bytes_total:
  - Type: Counter
  - Description: Total bytes of framed block data written to the content-addressed store

aoecas_snapshots_total{target}:
  - Type: Gauge
  - Description: Total snapshots recorded, by target
  - Labels: target (shelf.slot)

aoecas_nbd_connections_total:
  - Type: Counter
  - Description: Total number of NBD client connections accepted

aoecas_nbd_requests_total{command}:
  - Type: Counter
  - Description: Total NBD transmission requests handled, by command
  - Labels: command (read/write/disconnect/flush/trim/write_zeroes/unknown)

aoecas_nbd_request_duration_seconds{command}:
  - Type: Histogram
  - Description: NBD request duration in seconds, by command
  - Labels: command

# Usage

	import "github.com/aoecas/aoecas/pkg/metrics"

	metrics.TargetsTotal.Set(float64(len(targets)))

	timer := metrics.NewTimer()
	// ... handle frame ...
	metrics.ObserveFrame(protocol.CommandATA, matched, timer)

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration

Label Discipline:
  - Labels stay low-cardinality: command names, matched/dropped, target addresses
  - No per-request identifiers (tags, connection ids) as labels

Timer Pattern:
  - NewTimer/Now records a start time
  - ObserveDuration/ObserveDurationVec records elapsed time to a histogram
*/
package metrics
