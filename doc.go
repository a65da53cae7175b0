/*
Package mainthreadio runs a MapReduce job over client diagnostic records
that extracts per-file disk I/O telemetry and emits one row per file path.

The map side (package fileio) turns each record's fileIOReports into
(file key, feature vector) pairs. The reduce side (package aggregate) picks
a representative vector, passes vectors through, or summarizes them with
percentiles, depending on the configured strategy.

This package is the execution engine the two phases run on. Inputs are split
and packed into bins, each bin is mapped by a stateless executor, map output
is hash-partitioned into shuffle bins, and each shuffle bin is reduced with
values grouped by key in emission order. Executors run either as local
goroutines or as AWS Lambda invocations of the same binary.
*/
package mainthreadio
