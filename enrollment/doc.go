// Package enrollment implements the agent side of the remote approval
// protocol.
//
// A device submits its hardware fingerprint to the approval service, then
// polls until an administrator approves or rejects it. Approval yields an
// opaque credential that travels with the approved status; the credential is
// consumed exactly once by the module that requested it and is never
// persisted by this package.
//
// The polling loop in Client.AwaitApproval is the only long-lived wait the
// agent core defines. It has a hard wall-clock timeout, a fixed poll
// interval, and suspends only in its inter-poll sleep, where it also honors
// context cancellation. Transport and server errors are absorbed by the loop
// and logged; only rejection, approval, and timeout end it.
package enrollment
