package storage

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"kubegems.io/airlock/pkg/errors"
)

var transientCodes = map[string]bool{
	"RequestTimeout":           true,
	"RequestTimeTooSkewed":     true,
	"SlowDown":                 true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"InternalError":            true,
	"ServiceUnavailable":       true,
	"OperationAborted":         true,
	"RequestLimitExceeded":     true,
}

var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"AllAccessDisabled":     true,
	"NoSuchBucket":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"InvalidBucketName":     true,
	"AccountProblem":        true,
	"EntityTooLarge":        true,
	"InvalidArgument":       true,
}

// Classify wraps err in a *errors.StorageError, deciding whether a retry can help.
func Classify(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *errors.StorageError
	if stderrors.As(err, &se) {
		return err
	}
	return &errors.StorageError{Op: op, Bucket: bucket, Key: key, Transient: IsTransientError(err), Err: err}
}

func IsTransientError(err error) bool {
	switch {
	case err == nil:
		return false
	case stderrors.Is(err, context.DeadlineExceeded):
		return true
	case stderrors.Is(err, context.Canceled):
		return false
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if permanentCodes[code] {
			return false
		}
		if transientCodes[code] {
			return true
		}
	}

	var respErr *smithyhttp.ResponseError
	if stderrors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		return status >= http.StatusInternalServerError ||
			status == http.StatusTooManyRequests ||
			status == http.StatusRequestTimeout
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	return stderrors.Is(err, io.ErrUnexpectedEOF)
}

func IsNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if stderrors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}
