// Package types defines the shared data model for page assessments.
//
// Every analysis layer consumes a PageContext and produces a LayerReport;
// the mediator folds the reports into a single RiskAssessment. The types
// here carry no behavior beyond small helpers so that analyzer packages
// never depend on each other.
package types
