package model

import "time"

// Stage is the lifecycle step an audit event records.
type Stage string

const (
	StageBuild    Stage = "build"
	StageFinalize Stage = "finalize"
)

// AuditEvent is one build or finalize outcome.
type AuditEvent struct {
	RequestID  string
	CustomerID string
	Operation  string
	Stage      Stage
	Code       Code
	TxHash     string
	Fee        uint64
	Inputs     int
	At         time.Time
}

// CodeLabel returns the code for err, "OK" when err is nil.
func CodeLabel(err error) string {
	if err == nil {
		return "OK"
	}
	return string(CodeOf(err))
}
