package engine

import (
	"context"

	devicedomain "token-lifecycle/backend/internal/device/domain"
)

// Mismatch reasons reported by the default device-consistency policy.
const (
	ReasonDeviceIDMismatch  = "device_id_mismatch"
	ReasonIPAddressMismatch = "ip_address_mismatch"
)

// DeviceDecision holds the result of a device-consistency evaluation.
type DeviceDecision struct {
	Allowed bool
	// Reasons lists the failed checks, sorted. Empty when Allowed.
	Reasons []string
}

// DeviceEvaluator decides whether a refresh request comes from the device its token was issued to.
type DeviceEvaluator interface {
	// EvaluateDeviceConsistency compares the device recorded at issuance with the current one.
	// An error means the policy could not be evaluated; callers must treat it as a denial.
	EvaluateDeviceConsistency(ctx context.Context, recorded, current devicedomain.Info) (DeviceDecision, error)
}
