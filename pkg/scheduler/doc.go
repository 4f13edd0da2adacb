// Package scheduler drives collection cycles at a fixed interval, publishing
// every resulting snapshot, regardless of when (or whether) scrapes happen.
//
package scheduler
