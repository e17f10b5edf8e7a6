// Package faceme bridges typed calls to the FaceMe SDK HTTP API.
//
// A Client builds one request per operation (multipart form parts or a JSON
// body), authenticates it with the configured credential, sends it through a
// Transport and normalizes the reply into a *Result:
//   - plain JSON bodies are decoded as-is
//   - multipart replies (anti-spoofing) are reduced to their first part,
//     which carries the JSON verdict
//
// Failures are classified: ErrFileAccess, *TransportError, ErrServiceUnhealthy
// and ErrDecode. A multipart reply without parts is not a failure; it yields a
// Result whose Empty method reports true.
//
// Error codes embedded by FaceMe inside a successful JSON body are returned
// untouched. Interpreting them is up to the caller.
package faceme
