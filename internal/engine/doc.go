// Package engine schedules tile cache work as asynchronous jobs.
//
// A job runs its work phase on a worker goroutine and its completion phase
// on the loop goroutine that owns every Cache handle, callback and log
// target. Work phases only touch the job's pool, the parsed tile cache
// configuration and plain parameters; every call into the tile cache
// library is serialized by the process lock.
package engine
