/*
Package mediator orchestrates the analysis layers into one enforceable
verdict. It is the policy enforcement point: callers must treat the
returned verdict as authoritative.

Layer order is fixed. The DOM analyzer runs first and its parse yields the
visible/hidden text split the classifier consumes; the reasoner runs only
when the gray-band policy demands it; the risk calculator and explanation
generator follow all analyzers. Per-layer errors degrade into their layer
report and trigger fail-safe floors — an assessment is produced for every
structurally valid input, and uncertainty always biases toward the
stricter verdict.
*/
package mediator
