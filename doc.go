// Package authclient implements the session lifecycle of the brokerage admin
// console against an external REST backend: token issuance, bearer
// attachment, reactive refresh and expiry handling.
//
// Session lifecycle:
//   - Service.Login exchanges credentials for a TokenPair. SignIn adds the
//     admin check and persists the pair plus the cached AdminProfile.
//   - TokenStore keeps access_token, refresh_token and adminUser in a
//     Storage. ClearTokens removes the three keys in one operation.
//   - AuthInterceptor attaches "Authorization: Bearer <token>" to every
//     request. A 401 on the first attempt triggers one refresh and one
//     retry; a failed refresh clears the store and navigates to the login
//     route.
//
// Route guard:
//   - Guard.Evaluate resolves a protected view to AUTHORIZED or DENIED and
//     fails closed when the admin check errors.
//   - Gate is the mounted form of the guard. It re-evaluates when the admin
//     requirement changes and drops late results after Unmount.
//
// Storage backends live under storage/: JSON file, SQLite via bun, redis
// and fiber cookies. MemoryStorage is provided here.
package authclient
