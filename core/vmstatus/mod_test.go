package vmstatus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestCode_String(t *testing.T) {
	require.Equal(t, "invalid signature", CodeInvalidSignature.String())
	require.Equal(t, "out of gas", CodeOutOfGas.String())
	require.Equal(t, "unreachable", CodeUnreachable.String())
	require.Equal(t, "code 9999", Code(9999).String())
}

func TestCode_IsExecution(t *testing.T) {
	require.True(t, CodeAborted.IsExecution())
	require.True(t, CodeOutOfGas.IsExecution())
	require.False(t, CodeInvalidSignature.IsExecution())
	require.False(t, CodeDeserializationError.IsExecution())
}

func TestCode_IsInvariantViolation(t *testing.T) {
	require.True(t, CodeUnreachable.IsInvariantViolation())
	require.True(t, CodeNegativeGasUsage.IsInvariantViolation())
	require.False(t, CodeOutOfGas.IsInvariantViolation())
}

func TestStatus_Error(t *testing.T) {
	require.Equal(t, "status [bad chain id]", New(CodeBadChainID).Error())

	status := Newf(CodeStorageError, "oops %d", 42)
	require.Equal(t, "status [storage error]: oops 42", status.Error())

	require.Equal(t, "status [aborted]: abort code 7", NewAborted(7).Error())
	require.Equal(t, uint64(7), NewAborted(7).GetAbortCode())
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	status := New(CodeOutOfGas)
	require.Equal(t, status, FromError(status))

	wrapped := xerrors.Errorf("failed to execute: %w", status)
	require.Equal(t, status, FromError(wrapped))

	coerced := FromError(xerrors.New("oops"))
	require.Equal(t, CodeUnknownInvariantViolation, coerced.GetCode())
}

func TestClassify(t *testing.T) {
	ts := Classify(nil)
	require.True(t, ts.IsKeep())
	require.True(t, ts.GetExecutionStatus().IsSuccess())

	ts = Classify(New(CodeInvalidSignature))
	require.True(t, ts.IsDiscard())
	require.Equal(t, CodeInvalidSignature, ts.GetReason())

	ts = Classify(New(CodeUnreachable))
	require.True(t, ts.IsDiscard())

	ts = Classify(NewAborted(33))
	require.True(t, ts.IsKeep())
	require.False(t, ts.GetExecutionStatus().IsSuccess())
	require.Equal(t, uint64(33), ts.GetExecutionStatus().GetAbortCode())

	ts = Classify(New(CodeOutOfGas))
	require.True(t, ts.IsKeep())
	require.Equal(t, CodeOutOfGas, ts.GetExecutionStatus().GetCode())
}

func TestTransactionStatus_String(t *testing.T) {
	require.Equal(t, "keep(success)", Keep(Success()).String())
	require.Equal(t, "keep(out of gas)", Keep(Failed(CodeOutOfGas)).String())
	require.Equal(t, "discard(bad chain id)", Discard(CodeBadChainID).String())
	require.Equal(t, "retry", Retry().String())
}
