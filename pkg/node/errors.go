package node

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cirocosta/btc-exporter/pkg/rpc"
)

// Kind classifies why a query failed.
//
type Kind int

const (
	// KindTransientNetwork covers timeouts, refused connections and other
	// failures expected to go away on their own.
	//
	KindTransientNetwork Kind = iota

	// KindAuthFailure means the daemon rejected our credentials. It will
	// keep happening until the configuration changes.
	//
	KindAuthFailure

	// KindRPCProtocol means the daemon answered with an error payload.
	//
	KindRPCProtocol

	// KindParse means the response didn't have the shape we expected.
	//
	KindParse
)

// Kinds lists every Kind, in declaration order.
//
var Kinds = []Kind{
	KindTransientNetwork,
	KindAuthFailure,
	KindRPCProtocol,
	KindParse,
}

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthFailure:
		return "auth_failure"
	case KindRPCProtocol:
		return "rpc_protocol"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// CollectionError is the error returned by the adapter for a failed query.
//
type CollectionError struct {
	Group string
	Kind  Kind
	Err   error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Group, e.Kind, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of a CollectionError found in err's chain.
//
// Errors that were never classified are treated as transient.
//
func KindOf(err error) Kind {
	var collectionErr *CollectionError
	if errors.As(err, &collectionErr) {
		return collectionErr.Kind
	}

	return KindTransientNetwork
}

// Classify wraps err into a CollectionError for `group`, deciding its Kind
// from what the rpc layer returned.
//
func Classify(group string, err error) *CollectionError {
	var collectionErr *CollectionError
	if errors.As(err, &collectionErr) {
		return collectionErr
	}

	return &CollectionError{
		Group: group,
		Kind:  classify(err),
		Err:   err,
	}
}

func classify(err error) Kind {
	var (
		rpcErr    *rpc.Error
		statusErr *rpc.StatusError
		decodeErr *rpc.DecodeError
		netErr    net.Error
	)

	switch {
	case errors.Is(err, rpc.ErrCookieUnavailable):
		return KindTransientNetwork
	case errors.Is(err, rpc.ErrUnauthorized):
		return KindAuthFailure
	case errors.As(err, &rpcErr):
		return KindRPCProtocol
	case errors.As(err, &decodeErr):
		return KindParse
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= 500 {
			return KindTransientNetwork
		}

		return KindRPCProtocol
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return KindTransientNetwork
	default:
		return KindTransientNetwork
	}
}
