// Package auth holds client-side session state and coordinates access
// token refresh.
//
// The Refresher is the single point of cross-request synchronization in
// the kit: any number of calls can observe an expired token concurrently,
// but at most one refresh request is ever in flight. Late arrivals queue
// behind it and are handed the same new token in arrival order.
package auth
