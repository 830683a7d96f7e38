/*
Package monitoring records what the mediator decided and how long each
layer took.

Two surfaces share the package:

  - Collector: the process-lived rolling view — per-layer invocation counts
    and latency quantiles, verdict distribution, and (when ground-truth
    labels are supplied) confusion-matrix derived precision/recall/F1 per
    verdict class. Snapshot reads via Summary().
  - Metrics: Prometheus counters and histograms for scrape-based
    observability, exposed on /metrics by the HTTP facade.

Collector writes are serialized under one mutex; readers get copies.
Recording is fire-and-forget: a metrics failure never affects a verdict.
*/
package monitoring
