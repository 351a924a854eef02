// Package api defines the wire types of the enrollment approval protocol,
// shared by the agent-side client and the approval service handler.
package api

// EnrollmentStatus is the remote state of an enrollment request.
type EnrollmentStatus string

const (
	// EnrollmentPending means the request was recorded and awaits an
	// administrator decision.
	EnrollmentPending EnrollmentStatus = "pending"

	// EnrollmentApproved means an administrator approved the request; the
	// response carries the credential.
	EnrollmentApproved EnrollmentStatus = "approved"

	// EnrollmentRejected means an administrator rejected the request; the
	// response carries the reason.
	EnrollmentRejected EnrollmentStatus = "rejected"

	// EnrollmentExpired means the request sat undecided past its lifetime.
	// The device keeps polling; the service may re-issue.
	EnrollmentExpired EnrollmentStatus = "expired"
)

// RegisterRequest is the body of POST /api/enrollment/register.
type RegisterRequest struct {
	// Fingerprint is the stable hardware-derived identifier keying the
	// enrollment record.
	Fingerprint string `json:"fingerprint"`

	// Hostname and Platform describe the device to the approving
	// administrator.
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"`

	// Metadata carries additional free-form device facts.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EnrollmentResponse is the body returned by the register and status
// endpoints. Credential is present only when Status is approved; Reason only
// when Status is rejected.
type EnrollmentResponse struct {
	Fingerprint string           `json:"fingerprint"`
	Status      EnrollmentStatus `json:"status"`
	Credential  string           `json:"credential,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// RejectRequest is the body of the admin reject endpoint.
type RejectRequest struct {
	Reason string `json:"reason"`
}
