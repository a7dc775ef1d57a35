// Package gate converts session state and an operation kind into an
// authorization decision. Evaluation is a pure function over its inputs;
// callers are responsible for passing the session snapshot current at the
// moment of the attempt.
package gate

import "github.com/medivault/medivault/pkg/session"

// Operation is the kind of file access being attempted.
type Operation int

const (
	OpUpload Operation = iota
	OpDownload
)

func (o Operation) String() string {
	switch o {
	case OpUpload:
		return "upload"
	case OpDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Role-specific QBER thresholds, in percent. The doctor-side upload gate is
// stricter than the patient-side download gate. The asymmetry is carried
// over literally from observed product behavior; whether it is intentional
// policy is an open product question, so the two values are kept distinct
// rather than unified.
const (
	DoctorUploadThreshold    = 5.0
	PatientDownloadThreshold = 10.0
)

// Threshold returns the role threshold conventionally paired with op:
// doctors upload, patients download.
func Threshold(op Operation) float64 {
	if op == OpUpload {
		return DoctorUploadThreshold
	}
	return PatientDownloadThreshold
}

// Reason explains a decision. Serialized on the wire, so values are stable.
type Reason string

const (
	ReasonAllowed      Reason = "allowed"
	ReasonNoKey        Reason = "no_key"
	ReasonEavesdropper Reason = "eavesdropper_suspected"
)

// Message returns the user-facing explanation for a reason. Denials are
// always surfaced, never silently dropped.
func (r Reason) Message() string {
	switch r {
	case ReasonAllowed:
		return "Access granted"
	case ReasonNoKey:
		return "No quantum key established. Generate a key before transferring files."
	case ReasonEavesdropper:
		return "Eavesdropper suspected on the quantum channel. Transfer blocked."
	default:
		return "Access denied"
	}
}

// Decision is the outcome of one gate evaluation. Derived, never stored.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Evaluate applies the gate rules in order: a session without a key blocks
// everything; a QBER at or above the caller's threshold blocks the
// operation; otherwise the operation is allowed. No side effects and no
// caching: identical inputs always yield identical output.
func Evaluate(snap session.Snapshot, op Operation, threshold float64) Decision {
	if !snap.HasKey() {
		return Decision{Allowed: false, Reason: ReasonNoKey}
	}
	if snap.QBER >= threshold {
		return Decision{Allowed: false, Reason: ReasonEavesdropper}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}
