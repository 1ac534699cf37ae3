// Package tilecache is a compact WMTS/TMS/WMS tile cache.
//
// It is driven through a narrow, synchronous boundary: create a
// configuration bound to a pool, parse an XML configuration file into it,
// run post-configuration setup, then for every incoming request parse its
// query string, dispatch it to a request descriptor and hand the descriptor
// to the matching response builder. Failures are never returned as Go
// errors on the request path; they are recorded on the Context and turned
// into a service-specific exception document by RespondToError.
//
// None of the entry points take locks. Callers that share a Config between
// goroutines serialize calls into the package themselves.
package tilecache
