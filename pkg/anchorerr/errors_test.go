/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anchorerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("test message carries stage service and tx", func(t *testing.T) {
		err := WithStage(ConfirmationTimeout("0xabc", "https://explorer/tx/0xabc"), "sbt")

		require.Contains(t, err.Error(), "ConfirmationTimeout")
		require.Contains(t, err.Error(), "stage=sbt")
		require.Contains(t, err.Error(), "tx=0xabc")
		require.Contains(t, err.Error(), "explorer=https://explorer/tx/0xabc")
		require.True(t, errors.Is(err, ErrConfirmationTimeout))
		require.True(t, Is(err, KindConfirmationTimeout))
	})

	t.Run("test remote status", func(t *testing.T) {
		err := Remote("ipfs", 401, fmt.Errorf("%w: unauthorized", ErrPublishRejected))

		require.Contains(t, err.Error(), "service=ipfs status=401")
		require.True(t, errors.Is(err, ErrPublishRejected))
	})

	t.Run("test missing field", func(t *testing.T) {
		err := Missing("subject DID")

		require.True(t, Is(err, KindValidation))
		require.True(t, errors.Is(err, ErrMissingRequiredField))
		require.Contains(t, err.Error(), "subject DID")
	})

	t.Run("test with stage keeps first stage", func(t *testing.T) {
		err := WithStage(WithStage(Missing("x"), "build"), "run")

		e, ok := As(err)
		require.True(t, ok)
		require.Equal(t, "build", e.Stage)
	})

	t.Run("test with stage wraps plain error", func(t *testing.T) {
		err := WithStage(errors.New("boom"), "publish")

		require.EqualError(t, err, "publish: boom")
		require.False(t, Is(err, KindValidation))
		require.Nil(t, WithStage(nil, "publish"))
	})

	t.Run("test unknown kind name", func(t *testing.T) {
		require.Equal(t, "Kind(42)", Kind(42).String())
	})
}
