// Package approval implements the enrollment approval service: the remote
// side of the protocol in package enrollment.
//
// Devices register their hardware fingerprint and poll for a decision; an
// administrator approves or rejects pending requests through the admin
// endpoints. Approval mints the opaque credential that is handed to the
// device together with the approved status. Requests that sit undecided past
// their lifetime are reported as expired but kept, so a device that polls
// late still gets a truthful answer and an administrator can still decide.
//
// Records live in a pluggable Store; an in-memory store and a bbolt-backed
// store are provided.
package approval
