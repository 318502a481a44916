// Package access implements the hospital credential and access-approval
// lifecycle: hospital self-registration, doctor access requests, admin
// approval, rejection and suspension, and login gating.
//
// Directories:
//   - Hospitals (TenantDirectory) owns tenant records. Names are unique
//     case-insensitively, enforced by a unique column at insert time.
//   - Users (UserDirectory) owns profiles and their status. Email uniqueness
//     is enforced the same way. CreateAdminWithHospital writes both rows in
//     one transaction.
//
// Doctor lifecycle:
//   - StatusMachine holds the transition graph
//     (pending -> approved|rejected, approved -> suspended,
//     suspended -> approved). Rejected is terminal.
//   - Transitions run as a compare-and-set on the stored status inside a
//     transaction scoped to the acting admin's hospital. A caller that loses
//     a race sees the winner's status in the returned error.
//
// Credentials:
//   - CredentialStore is the boundary to whatever owns passwords. The local
//     store keeps bcrypt hashes, single use tokens and revocable JWT
//     sessions in the same database; provider/auth0 delegates to Auth0.
//
// Activity sinks:
//   - ActivitySink receives best effort audit events for every lifecycle
//     action. Errors are logged and never fail the operation.
package access
