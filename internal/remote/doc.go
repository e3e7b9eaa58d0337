// Package remote speaks the shuttle operator's reservation API.
//
// The remote service is a PHP front controller: every endpoint is
// index.php?ctrl=<Controller>&action=<Action> returning a JSON envelope
// whose payload placement varies by deployment. This package owns the
// wire-level quirks (envelope variants, string-or-number fields, seat map
// shapes) and hands normalized types to the rest of the pipeline.
//
// A Client is shared process-wide (rate limiter, base URL); each account
// gets its own Session carrying an isolated cookie jar and auth token.
package remote
