// Package rpc implements a small JSON-RPC client for bitcoind.
//
// It only knows about the envelope (method, params, result, error) and the
// two ways bitcoind authenticates callers (static credentials or the cookie
// file). Typed responses live in `pkg/node`.
//
package rpc
