// Package httpmw holds the middleware shared by the public notebook
// listener: request ids, client address extraction, default response
// headers, body limits, panic recovery, request scoped logging and route
// annotation for traces.
//
// httpserver.NewHandler composes them; each can be used on its own.
package httpmw
